package cache

import (
	"context"
	"net/url"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/artcache/internal/eventloop"
)

// DefaultMaxRedirects 是单个任务允许跟随的最大重定向次数。
const DefaultMaxRedirects = 10

// Entry 描述一个已缓存的封面文件，创建后不再变化。
type Entry struct {
	Key       Key    `json:"key"`
	FileName  string `json:"file_name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Empty 表示文件长度为 0：可能是失败标记，也可能是合法的空 payload。
func (e Entry) Empty() bool {
	return e.SizeBytes == 0
}

// Probe 是一次原子的查询结果：key 要么在拉取中，要么已缓存，要么都不是。
type Probe struct {
	Job    *Job
	Entry  Entry
	Cached bool
}

// Stats 汇总当前索引与在途任务数量。
type Stats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	InFlight  int   `json:"in_flight"`
}

// Options 控制 Store 的依赖与限制。
type Options struct {
	Root         string
	Loop         *eventloop.Loop
	Fetcher      Fetcher
	Logger       *logrus.Logger
	MaxRedirects int
	FetchTimeout time.Duration
}

// Store 是某个设备封面缓存的唯一权威：维护磁盘索引与在途任务表，
// 保证同一 key 同时最多只有一个下载。index/inFlight 只在事件循环中访问。
type Store struct {
	deviceID     string
	dir          string
	ready        bool
	loop         *eventloop.Loop
	fetcher      Fetcher
	logger       *logrus.Logger
	maxRedirects int
	fetchTimeout time.Duration

	index     map[Key]Entry
	sizeBytes int64
	inFlight  map[Key]*Job

	subMu       sync.RWMutex
	subscribers []func(LocalPayloadRequest)
}

// NewStore 创建设备缓存并扫描已有文件。目录无法创建时记录错误并返回一个
// 降级的 Store：所有查询都未命中，StartFetch 为空操作。
func NewStore(deviceID string, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	loop := opts.Loop
	if loop == nil {
		loop = eventloop.New(logger)
		loop.Start()
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	s := &Store{
		deviceID:     deviceID,
		loop:         loop,
		fetcher:      opts.Fetcher,
		logger:       logger,
		maxRedirects: maxRedirects,
		fetchTimeout: opts.FetchTimeout,
		index:        make(map[Key]Entry),
		inFlight:     make(map[Key]*Job),
	}
	s.initialize(opts.Root)
	return s
}

func (s *Store) initialize(root string) {
	fields := logrus.Fields{"action": "cache_init", "device": s.deviceID}

	dir, err := deviceCacheDir(root, s.deviceID)
	if err == nil {
		err = ensureDir(dir)
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("failed to create cache dir")
		return
	}
	s.dir = dir

	index, total, err := scanDir(dir)
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("failed to scan cache dir")
		return
	}
	s.index = index
	s.sizeBytes = total
	s.ready = true

	fields["dir"] = dir
	fields["entries"] = len(index)
	fields["size_bytes"] = total
	s.logger.WithFields(fields).Infof("Using %d MB of album art cache", total/1024/1024)
}

// DeviceID 返回 Store 所属的设备。
func (s *Store) DeviceID() string { return s.deviceID }

// Dir 返回缓存目录；降级状态下为空。
func (s *Store) Dir() string { return s.dir }

// Ready 表示缓存目录可用。
func (s *Store) Ready() bool { return s.ready }

// FilePath 返回缓存目录下 fileName 的绝对路径。
func (s *Store) FilePath(fileName string) string {
	return filepath.Join(s.dir, filepath.Base(fileName))
}

// ImageIdentifier 返回 UI 引用该 URL 封面时使用的标识。
func (s *Store) ImageIdentifier(rawURL string) string {
	return ImageIdentifier(s.deviceID, rawURL)
}

// call 把 fn 交给事件循环执行；循环已停止时返回 false。
func (s *Store) call(fn func()) bool {
	if err := s.loop.Call(context.Background(), fn); err != nil {
		s.logger.WithFields(logrus.Fields{"action": "cache_call", "device": s.deviceID}).
			WithError(err).Debug("event loop unavailable")
		return false
	}
	return true
}

// IsCached 报告 key 是否已在磁盘索引中。
func (s *Store) IsCached(key Key) bool {
	var ok bool
	s.call(func() { _, ok = s.index[key] })
	return ok
}

// IsURLCached 先推导 key 再查询索引。
func (s *Store) IsURLCached(rawURL string) bool {
	return s.IsCached(DeriveKey(rawURL))
}

// Lookup 返回 key 对应的缓存条目。
func (s *Store) Lookup(key Key) (Entry, bool) {
	var (
		entry Entry
		ok    bool
	)
	s.call(func() { entry, ok = s.index[key] })
	return entry, ok
}

// JobInFlight 返回 key 对应的在途任务。
func (s *Store) JobInFlight(key Key) (*Job, bool) {
	var (
		job *Job
		ok  bool
	)
	s.call(func() { job, ok = s.inFlight[key] })
	return job, ok
}

// Probe 在一次事件循环回合内同时检查在途表与索引。
func (s *Store) Probe(key Key) Probe {
	var probe Probe
	s.call(func() {
		if job, ok := s.inFlight[key]; ok {
			probe.Job = job
			return
		}
		if entry, ok := s.index[key]; ok {
			probe.Entry = entry
			probe.Cached = true
		}
	})
	return probe
}

// Stats 返回索引条目数、累计字节数与在途任务数。
func (s *Store) Stats() Stats {
	var stats Stats
	s.call(func() {
		stats = Stats{
			Entries:   len(s.index),
			SizeBytes: s.sizeBytes,
			InFlight:  len(s.inFlight),
		}
	})
	return stats
}

// OnLocalPayloadRequest 订阅“请提供本地文件字节”信号。每次信号在独立 goroutine 中
// 调用订阅方，订阅方可以直接回调 SupplyPayload。
func (s *Store) OnLocalPayloadRequest(fn func(LocalPayloadRequest)) {
	if fn == nil {
		return
	}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

// StartFetch 为 URL 创建下载任务。URL 为空、已缓存、已在拉取中或缓存不可用时
// 返回 nil。返回的任务在调用方订阅之前不会丢失终态事件。
func (s *Store) StartFetch(rawURL, origin string) *Job {
	if rawURL == "" {
		return nil
	}
	if !s.ready {
		s.logger.WithFields(logrus.Fields{"action": "fetch", "device": s.deviceID, "url": rawURL}).
			Debug("cache unavailable, skip fetch")
		return nil
	}

	var job *Job
	s.call(func() { job = s.startFetch(rawURL, origin) })
	return job
}

func (s *Store) startFetch(rawURL, origin string) *Job {
	key := DeriveKey(rawURL)
	if _, ok := s.index[key]; ok {
		s.logger.WithFields(logrus.Fields{"action": "fetch", "device": s.deviceID, "url": rawURL}).Debug("already cached")
		return nil
	}
	if _, ok := s.inFlight[key]; ok {
		s.logger.WithFields(logrus.Fields{"action": "fetch", "device": s.deviceID, "url": rawURL}).Debug("already fetching")
		return nil
	}

	job := newJob(rawURL, s.FilePath(CacheFileName(rawURL)), jobOptions{
		deviceID:     s.deviceID,
		origin:       origin,
		loop:         s.loop,
		fetcher:      s.fetcher,
		logger:       s.logger,
		maxRedirects: s.maxRedirects,
		onTerminal:   s.fetchFinished,
	})
	s.inFlight[key] = job
	job.armDeadline(s.fetchTimeout)

	if isLocalFile(rawURL) {
		s.emitLocalPayloadRequest(LocalPayloadRequest{
			DeviceID: s.deviceID,
			URL:      rawURL,
			Origin:   origin,
			Key:      key,
		})
		return job
	}

	var payload Payload
	if s.fetcher != nil {
		payload = s.fetcher.Get(rawURL)
	}
	job.start(payload)
	return job
}

// SupplyPayload 把本地协作方交付的 payload 转交给对应的在途任务。
func (s *Store) SupplyPayload(rawURL string, payload Payload) {
	s.call(func() {
		job, ok := s.inFlight[DeriveKey(rawURL)]
		if !ok {
			s.logger.WithFields(logrus.Fields{"action": "supply_payload", "device": s.deviceID, "url": rawURL}).
				Debug("never started a job")
			return
		}
		job.start(payload)
	})
}

// Close 丢弃所有在途任务：正在拷贝的任务会先等待拷贝 goroutine 释放文件，
// 随后目标文件被截断为空标记，观察者收到 ErrJobAbandoned。
func (s *Store) Close() {
	s.call(func() {
		for key, job := range s.inFlight {
			delete(s.inFlight, key)
			job.abandon()
		}
	})
}

// fetchFinished 在事件循环中把任务从在途表移入索引（成功）或直接移除（失败）。
func (s *Store) fetchFinished(job *Job, res Result) {
	if current, ok := s.inFlight[job.Key()]; ok && current == job {
		delete(s.inFlight, job.Key())
	}
	if res.Err != nil {
		return
	}

	entry := Entry{
		Key:       job.Key(),
		FileName:  job.FileName(),
		Path:      job.Path(),
		SizeBytes: job.FileSize(),
	}
	s.index[entry.Key] = entry
	s.sizeBytes += entry.SizeBytes

	s.logger.WithFields(logrus.Fields{
		"action":     "cache_add",
		"device":     s.deviceID,
		"url":        job.URL(),
		"size_bytes": entry.SizeBytes,
	}).Debugf("Added %s (Disk cache: %d MB)", job.URL(), s.sizeBytes/1024/1024)
}

func (s *Store) emitLocalPayloadRequest(req LocalPayloadRequest) {
	s.subMu.RLock()
	subscribers := slices.Clone(s.subscribers)
	s.subMu.RUnlock()

	if len(subscribers) == 0 {
		s.logger.WithFields(logrus.Fields{"action": "local_payload", "device": s.deviceID, "url": req.URL}).
			Warn("no local payload supplier attached")
	}
	for _, fn := range subscribers {
		go fn(req)
	}
}

func isLocalFile(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Scheme == "file"
}
