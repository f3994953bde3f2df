// Package scheduler は資格情報の有効期限に合わせた遅延処理を管理する。
package scheduler

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// job は1つの識別子に対して登録された遅延処理。
type job struct {
	seq   uint64
	timer clock.Timer
}

// Entry は起動時の復旧で再登録する資格情報を表す。
// Remainingが0以下の場合は期限切れとして扱う。
type Entry struct {
	Identity  string
	Remaining time.Duration
	OnExpire  func()
}

// Scheduler は識別子ごとに最大1つのタイマーを保持する。
// 同じ識別子に対する登録と取り消しは排他される。
type Scheduler struct {
	clock clock.WithDelayedExecution

	mu   sync.Mutex
	jobs map[string]*job
	seq  uint64
}

// New は新しいSchedulerを生成する。
func New(c clock.WithDelayedExecution) *Scheduler {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Scheduler{
		clock: c,
		jobs:  make(map[string]*job),
	}
}

// Schedule は既存のジョブを取り消した上で、delay後にonExpireを1度だけ呼び出すジョブを登録する。
// delayが0以下の場合は登録せずにその場で呼び出す。
func (s *Scheduler) Schedule(identity string, delay time.Duration, onExpire func()) {
	s.mu.Lock()
	s.cancelLocked(identity)
	if delay <= 0 {
		s.mu.Unlock()
		onExpire()
		return
	}

	s.seq++
	seq := s.seq
	j := &job{seq: seq}
	j.timer = s.clock.AfterFunc(delay, func() {
		// タイマーのゴルーチンからはロックを取らずに抜ける
		go s.fire(identity, seq, onExpire)
	})
	s.jobs[identity] = j
	s.mu.Unlock()
}

// fire は発火したジョブがまだ現在のものであればonExpireを呼ぶ。
func (s *Scheduler) fire(identity string, seq uint64, onExpire func()) {
	s.mu.Lock()
	j, ok := s.jobs[identity]
	if !ok || j.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, identity)
	s.mu.Unlock()

	onExpire()
}

// Cancel は識別子のジョブを取り消す。ジョブが存在した場合はtrueを返す。
func (s *Scheduler) Cancel(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(identity)
}

func (s *Scheduler) cancelLocked(identity string) bool {
	j, ok := s.jobs[identity]
	if !ok {
		return false
	}
	j.timer.Stop()
	delete(s.jobs, identity)
	return true
}

// Recover は復旧対象のエントリを登録する。期限切れのエントリは呼び出し中に同期的に失効させる。
func (s *Scheduler) Recover(entries []Entry) {
	for _, e := range entries {
		s.Schedule(e.Identity, e.Remaining, e.OnExpire)
	}
}

// Has は識別子のジョブが登録されているかを返す。
func (s *Scheduler) Has(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[identity]
	return ok
}

// Len は登録中のジョブ数を返す。
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close は全てのジョブを取り消す。
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for identity := range s.jobs {
		s.cancelLocked(identity)
	}
}
