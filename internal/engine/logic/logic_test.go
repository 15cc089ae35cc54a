package logic

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlasbms/atlas/internal/control/pid"
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/infra/locations"
)

// fakeState is a map-backed StateView that also absorbs Results, so tests
// can run tick sequences the way the processor does.
type fakeState struct {
	pids map[string]pid.State
	kv   map[string]any
}

func newFakeState() *fakeState {
	return &fakeState{pids: make(map[string]pid.State), kv: make(map[string]any)}
}

func (f *fakeState) PID(controller string) pid.State { return f.pids[controller] }

func (f *fakeState) Float(key string) (float64, bool) {
	v, ok := f.kv[key]
	if !ok {
		return 0, false
	}
	fv, ok := v.(float64)
	return fv, ok
}

func (f *fakeState) Bool(key string) (bool, bool) {
	v, ok := f.kv[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (f *fakeState) String(key string) (string, bool) {
	v, ok := f.kv[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (f *fakeState) Time(key string) (time.Time, bool) {
	v, ok := f.kv[key]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func (f *fakeState) apply(res Result) {
	for k, v := range res.PID {
		f.pids[k] = v
	}
	for k, v := range res.State {
		f.kv[k] = v
	}
}

func testRegistry(t *testing.T) map[string]locations.Location {
	t.Helper()
	r, err := locations.LoadDefault(zap.NewNop())
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	out := make(map[string]locations.Location)
	for _, l := range r.All() {
		out[l.ID] = l
	}
	return out
}

func mustFloat(t *testing.T, bag domain.CommandBag, name string) float64 {
	t.Helper()
	v, ok := bag.Float(name)
	if !ok {
		t.Fatalf("command %q missing from bag %v", name, bag.Names())
	}
	return v
}

func mustBool(t *testing.T, bag domain.CommandBag, name string) bool {
	t.Helper()
	v, ok := bag.Bool(name)
	if !ok {
		t.Fatalf("command %q missing from bag %v", name, bag.Names())
	}
	return v
}

// allowedSubset asserts the universal invariant: every emitted command is
// in the allowed set for the type.
func allowedSubset(t *testing.T, typ domain.EquipmentType, bag domain.CommandBag) {
	t.Helper()
	_, dropped := domain.FilterCommands(typ, bag)
	if len(dropped) != 0 {
		t.Errorf("%s bag emits disallowed commands: %v", typ, dropped)
	}
}
