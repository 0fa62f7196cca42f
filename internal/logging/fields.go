package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供设备/图片标识/命中状态字段，供封面请求日志复用。
func RequestFields(device, identifier, requestID string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"device":     device,
		"identifier": identifier,
		"cache_hit":  cacheHit,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
