package telemetry

import (
	"testing"

	"idevicekit/internal/instruments"
	"idevicekit/internal/plist"
)

func TestOnSysmontapMessageExtractsTargetProcess(t *testing.T) {
	p := NewProfiler(42)

	reply := instruments.Reply{Parsed: []any{
		plist.Dict{
			"Processes": plist.Dict{
				"42": []any{int64(2 * 1024 * 1024 * 1024), 12.5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, int64(50 * 1024 * 1024)},
			},
		},
	}}

	p.onSysmontapMessageForTest(reply)

	s := p.Snapshot()
	if s.CPUUsage != 12.5 {
		t.Errorf("CPUUsage = %v, want 12.5", s.CPUUsage)
	}
	if s.VirtualMemGB != 2.0 {
		t.Errorf("VirtualMemGB = %v, want 2.0", s.VirtualMemGB)
	}
	if s.PSSMemMB != 50.0 {
		t.Errorf("PSSMemMB = %v, want 50.0", s.PSSMemMB)
	}
}

func TestOnSysmontapMessageClearsWhenProcessMissing(t *testing.T) {
	p := NewProfiler(42)
	p.sample = Sample{CPUUsage: 5, PSSMemMB: 5, VirtualMemGB: 5}

	reply := instruments.Reply{Parsed: []any{
		plist.Dict{"Processes": plist.Dict{"99": []any{}}},
	}}
	p.onSysmontapMessageForTest(reply)

	s := p.Snapshot()
	if s.CPUUsage != 0 || s.PSSMemMB != 0 || s.VirtualMemGB != 0 {
		t.Fatalf("expected cleared metrics, got %+v", s)
	}
}

func TestOnFPSMessageUpdatesFPS(t *testing.T) {
	p := NewProfiler(42)
	reply := instruments.Reply{Parsed: plist.Dict{"CoreAnimationFramesPerSecond": int64(59)}}

	p.onFPSMessageForTest(reply)

	if got := p.Snapshot().FPS; got != 59 {
		t.Fatalf("FPS = %v, want 59", got)
	}
}

// onSysmontapMessageForTest/onFPSMessageForTest expose the unexported
// callbacks to this in-package test file under explicit names, keeping the
// production callback signatures (instruments.Session expects func(Reply))
// unchanged.
func (p *Profiler) onSysmontapMessageForTest(r instruments.Reply) { p.onSysmontapMessage(r) }
func (p *Profiler) onFPSMessageForTest(r instruments.Reply)       { p.onFPSMessage(r) }
