package memkv

import (
    "container/heap"
    "sort"
    "strings"
    "sync"
    "sync/atomic"
    "time"
)

// Options configures a Store.
type Options struct {
    Shards   int    // number of shards (default 64)
    MaxBytes uint64 // hard cap on the total size of values (0 = unlimited)
}

func (o Options) withDefaults() Options {
    if o.Shards <= 0 {
        o.Shards = 64
    }
    return o
}

// Store is the key/value store. Values are copied on Set and on Get.
type Store struct {
    opts    Options
    shards  []shard
    expq    expQueue
    wake    chan struct{}
    closeCh chan struct{}
    once    sync.Once
    wg      sync.WaitGroup
    nowFn   func() time.Time

    mKeys    atomic.Int64
    mBytes   atomic.Uint64
    mExpired atomic.Uint64
}

type shard struct {
    mu sync.RWMutex
    m  map[string]*entry
}

type entry struct {
    val      []byte
    expireAt int64 // unix nano; 0 = never
}

func (e *entry) expired(now int64) bool { return e.expireAt != 0 && e.expireAt <= now }

// New creates a store and starts its expiry goroutine. Call Close to stop it.
func New(opts Options) *Store {
    opts = opts.withDefaults()
    s := &Store{
        opts:    opts,
        shards:  make([]shard, opts.Shards),
        wake:    make(chan struct{}, 1),
        closeCh: make(chan struct{}),
        nowFn:   time.Now,
    }
    for i := range s.shards {
        s.shards[i].m = make(map[string]*entry)
    }
    s.wg.Add(1)
    go s.expirer()
    return s
}

// Close stops the expiry goroutine. It is safe to call more than once.
func (s *Store) Close() {
    s.once.Do(func() { close(s.closeCh) })
    s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
    // FNV-1a 64
    var h uint64 = 1469598103934665603
    for i := 0; i < len(key); i++ {
        h ^= uint64(key[i])
        h *= 1099511628211
    }
    return &s.shards[int(h%uint64(len(s.shards)))]
}

// reserve accounts delta bytes, failing when MaxBytes would be exceeded.
func (s *Store) reserve(delta int) bool {
    if delta <= 0 {
        s.release(-delta)
        return true
    }
    for {
        cur := s.mBytes.Load()
        next := cur + uint64(delta)
        if s.opts.MaxBytes != 0 && next > s.opts.MaxBytes {
            return false
        }
        if s.mBytes.CompareAndSwap(cur, next) {
            return true
        }
    }
}

func (s *Store) release(n int) {
    if n <= 0 {
        return
    }
    for {
        cur := s.mBytes.Load()
        next := uint64(0)
        if uint64(n) < cur {
            next = cur - uint64(n)
        }
        if s.mBytes.CompareAndSwap(cur, next) {
            return
        }
    }
}

func (s *Store) expireAt(ttl time.Duration) int64 {
    if ttl <= 0 {
        return 0
    }
    return s.nowFn().Add(ttl).UnixNano()
}

// Set stores a copy of val. ttl <= 0 means no expiry. It returns false when
// the byte budget would be exceeded.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
    v := append([]byte(nil), val...)
    exp := s.expireAt(ttl)

    sh := s.shardFor(key)
    sh.mu.Lock()
    prev, existed := sh.m[key]
    oldLen := 0
    if existed {
        oldLen = len(prev.val)
    }
    if !s.reserve(len(v) - oldLen) {
        sh.mu.Unlock()
        return false
    }
    sh.m[key] = &entry{val: v, expireAt: exp}
    if !existed {
        s.mKeys.Add(1)
    }
    sh.mu.Unlock()

    if exp != 0 {
        s.enqueue(key, exp)
    }
    return true
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(key string) ([]byte, bool) {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    if !ok || e.expired(s.nowFn().UnixNano()) {
        sh.mu.RUnlock()
        return nil, false
    }
    out := append([]byte(nil), e.val...)
    sh.mu.RUnlock()
    return out, true
}

// Update replaces the value of an existing, unexpired key with fn(old). The
// TTL is kept. It returns false when the key is missing or the budget would
// be exceeded.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok || e.expired(s.nowFn().UnixNano()) {
        return false
    }
    nv := append([]byte(nil), fn(append([]byte(nil), e.val...))...)
    if !s.reserve(len(nv) - len(e.val)) {
        return false
    }
    e.val = nv
    return true
}

// Upsert is Update for existing keys and Set(fn(nil), ttl) otherwise.
func (s *Store) Upsert(key string, ttl time.Duration, fn func(old []byte) []byte) bool {
    if s.Update(key, fn) {
        return true
    }
    return s.Set(key, fn(nil), ttl)
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if ok {
        delete(sh.m, key)
    }
    sh.mu.Unlock()
    if ok {
        s.mKeys.Add(-1)
        s.release(len(e.val))
    }
    return ok
}

// Expire resets the TTL of key. ttl <= 0 deletes it.
func (s *Store) Expire(key string, ttl time.Duration) bool {
    if ttl <= 0 {
        return s.Delete(key)
    }
    exp := s.expireAt(ttl)
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if !ok || e.expired(s.nowFn().UnixNano()) {
        sh.mu.Unlock()
        return false
    }
    e.expireAt = exp
    sh.mu.Unlock()
    s.enqueue(key, exp)
    return true
}

// TTL returns the remaining lifetime of key; 0 with ok=true means no expiry.
func (s *Store) TTL(key string) (time.Duration, bool) {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    sh.mu.RUnlock()
    if !ok {
        return 0, false
    }
    now := s.nowFn().UnixNano()
    if e.expired(now) {
        return 0, false
    }
    if e.expireAt == 0 {
        return 0, true
    }
    return time.Duration(e.expireAt - now), true
}

// Keys returns the live keys with the given prefix in sorted order.
func (s *Store) Keys(prefix string) []string {
    now := s.nowFn().UnixNano()
    var out []string
    for i := range s.shards {
        sh := &s.shards[i]
        sh.mu.RLock()
        for k, e := range sh.m {
            if strings.HasPrefix(k, prefix) && !e.expired(now) {
                out = append(out, k)
            }
        }
        sh.mu.RUnlock()
    }
    sort.Strings(out)
    return out
}

// Stats is a point-in-time view of the store counters.
type Stats struct {
    Keys    int64
    Bytes   uint64
    Expired uint64
}

// Metrics returns the current counters.
func (s *Store) Metrics() Stats {
    return Stats{Keys: s.mKeys.Load(), Bytes: s.mBytes.Load(), Expired: s.mExpired.Load()}
}

type expItem struct {
    when int64
    key  string
}

type expQueue struct {
    mu    sync.Mutex
    items []expItem
}

func (q *expQueue) Len() int           { return len(q.items) }
func (q *expQueue) Less(i, j int) bool { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *expQueue) Push(x any)         { q.items = append(q.items, x.(expItem)) }
func (q *expQueue) Pop() any {
    n := len(q.items)
    it := q.items[n-1]
    q.items = q.items[:n-1]
    return it
}

func (s *Store) enqueue(key string, when int64) {
    s.expq.mu.Lock()
    heap.Push(&s.expq, expItem{when: when, key: key})
    s.expq.mu.Unlock()
    select {
    case s.wake <- struct{}{}:
    default:
    }
}

// expirer evicts keys as their deadlines pass. Heap items are hints: the
// entry is only removed if it is still expired when its deadline fires.
func (s *Store) expirer() {
    defer s.wg.Done()
    timer := time.NewTimer(time.Hour)
    defer timer.Stop()
    for {
        s.expq.mu.Lock()
        wait := time.Hour
        var due []expItem
        now := s.nowFn().UnixNano()
        for s.expq.Len() > 0 {
            it := s.expq.items[0]
            if it.when > now {
                wait = time.Duration(it.when - now)
                break
            }
            due = append(due, heap.Pop(&s.expq).(expItem))
        }
        s.expq.mu.Unlock()

        for _, it := range due {
            s.evict(it.key)
        }

        if !timer.Stop() {
            select {
            case <-timer.C:
            default:
            }
        }
        timer.Reset(wait)
        select {
        case <-s.closeCh:
            return
        case <-s.wake:
        case <-timer.C:
        }
    }
}

func (s *Store) evict(key string) {
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if ok && e.expired(s.nowFn().UnixNano()) {
        delete(sh.m, key)
    } else {
        ok = false
    }
    sh.mu.Unlock()
    if ok {
        s.mKeys.Add(-1)
        s.mExpired.Add(1)
        s.release(len(e.val))
    }
}
