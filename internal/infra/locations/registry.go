// Package locations loads the per-location control parameters: occupancy
// windows, temperature-source candidate lists, OAR curves, PID tunings,
// lead-lag group definitions, task cadences, and the equipment roster.
// The registry ships an embedded default and hot-reloads edits to an
// on-disk copy via fsnotify.
package locations

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/atlasbms/atlas/internal/control/oar"
	"github.com/atlasbms/atlas/internal/control/pid"
	"github.com/atlasbms/atlas/internal/domain"
)

// Duration wraps time.Duration for "30s"/"2m" YAML values.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Occupancy is a daily time-of-day window, local time, "HH:MM".
type Occupancy struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Contains reports whether t's time-of-day falls inside the window.
// A zero window means always occupied.
func (o Occupancy) Contains(t time.Time) bool {
	if o.Start == "" || o.End == "" {
		return true
	}
	start, err1 := parseClock(o.Start)
	end, err2 := parseClock(o.End)
	if err1 != nil || err2 != nil {
		return true
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= start && minutes < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// TempSource fixes how a location resolves its control temperature: an
// ordered candidate list of metric fields and a fallback constant.
type TempSource struct {
	Mode       string   `yaml:"mode"` // supply | space | mixed
	Candidates []string `yaml:"candidates"`
	Default    float64  `yaml:"default"`
}

// OutdoorSource is the candidate list for outdoor air temperature.
var OutdoorSource = []string{"OutdoorTemp", "Outdoor_Air", "OutdoorAirTemp", "OAT", "outdoorTemperature"}

// GroupDef declares a lead-lag cohort.
type GroupDef struct {
	ID             string   `yaml:"id"`
	Members        []string `yaml:"members"`
	UseLeadLag     bool     `yaml:"useLeadLag"`
	AutoFailover   bool     `yaml:"autoFailover"`
	ChangeoverDays float64  `yaml:"changeoverDays"`
}

// FanCoilParams tunes the fan-coil loops at one location.
type FanCoilParams struct {
	DefaultSetpoint  float64               `yaml:"defaultSetpoint"`
	DeadBand         float64               `yaml:"deadBand"`
	DamperMode       string                `yaml:"damperMode"` // binary | window
	DamperBinaryOAT  float64               `yaml:"damperBinaryOAT"`
	DamperWindowLow  float64               `yaml:"damperWindowLow"`
	DamperWindowHigh float64               `yaml:"damperWindowHigh"`
	PID              map[string]pid.Params `yaml:"pid"` // heating, cooling
}

// BoilerParams tunes the boiler plant at one location.
type BoilerParams struct {
	Curve       oar.Curve `yaml:"curve"`
	FiringDelta float64   `yaml:"firingDelta"` // fire when setpoint - supply exceeds this
	GroupID     string    `yaml:"groupId"`
}

// PumpParams carries the hysteresis thresholds for both pump kinds.
type PumpParams struct {
	HWOnBelow  float64 `yaml:"hwOnBelow"`
	HWOffAbove float64 `yaml:"hwOffAbove"`
	CWOnAbove  float64 `yaml:"cwOnAbove"`
	CWOffBelow float64 `yaml:"cwOffBelow"`
}

// ChillerParams tunes the chiller plant.
type ChillerParams struct {
	LockoutOAT       float64 `yaml:"lockoutOAT"`
	DefaultSetpoint  float64 `yaml:"defaultSetpoint"`
	DeadBand         float64 `yaml:"deadBand"`
	WaterTempControl bool    `yaml:"waterTempControl"`
	GroupID          string  `yaml:"groupId"`
}

// AirHandlerParams tunes one air handler. Variant selects the embedded
// subsystem state machine.
type AirHandlerParams struct {
	Variant             string                `yaml:"variant"` // base | cw-chiller | dx | fan-cycling
	SupplySetpoint      float64               `yaml:"supplySetpoint"`
	DeadBand            float64               `yaml:"deadBand"`
	PID                 map[string]pid.Params `yaml:"pid"`
	DXHysteresis        float64               `yaml:"dxHysteresis"`
	DXMinRuntime        Duration              `yaml:"dxMinRuntime"`
	PumpWarmup          Duration              `yaml:"pumpWarmup"`
	PumpCooldown        Duration              `yaml:"pumpCooldown"`
	CoolingMinOAT       float64               `yaml:"coolingMinOAT"`
	FreezeGuardTemp     float64               `yaml:"freezeGuardTemp"`
	ElectricHeatStages  int                   `yaml:"electricHeatStages"`
}

// SteamBundleParams tunes the steam bundle.
type SteamBundleParams struct {
	Curve             oar.Curve             `yaml:"curve"`
	TripTemp          float64               `yaml:"tripTemp"`
	PumpInterlockAmps float64               `yaml:"pumpInterlockAmps"`
	PID               map[string]pid.Params `yaml:"pid"`
}

// EquipmentDef is one roster entry; it seeds the metadata repository.
type EquipmentDef struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	GroupID string `yaml:"groupId"`
	Subrole string `yaml:"subrole"`
}

// Location is the full control profile of one site.
type Location struct {
	ID          string                        `yaml:"id"`
	Name        string                        `yaml:"name"`
	Occupancy   Occupancy                     `yaml:"occupancy"`
	Temperature TempSource                    `yaml:"temperature"`
	Cadence     map[string]Duration           `yaml:"cadence"`
	Groups      []GroupDef                    `yaml:"groups"`
	FanCoil     *FanCoilParams                `yaml:"fanCoil"`
	Boiler      *BoilerParams                 `yaml:"boiler"`
	Pumps       *PumpParams                   `yaml:"pumps"`
	Chiller     *ChillerParams                `yaml:"chiller"`
	AirHandlers map[string]*AirHandlerParams  `yaml:"airHandlers"` // keyed by subrole
	SteamBundle *SteamBundleParams            `yaml:"steamBundle"`
	Equipment   []EquipmentDef                `yaml:"equipment"`
}

// TaskInterval returns the tick cadence for an equipment type at this
// location, falling back to the per-type defaults.
func (l Location) TaskInterval(t domain.EquipmentType) time.Duration {
	if d, ok := l.Cadence[string(t)]; ok && d.Std() > 0 {
		return d.Std()
	}
	switch t {
	case domain.TypeBoiler:
		return 2 * time.Minute
	case domain.TypeChiller:
		return 5 * time.Minute
	case domain.TypeSteamBundle:
		return 3 * time.Minute
	default:
		return 30 * time.Second
	}
}

// AirHandler returns the params for one AHU subrole, nil when the
// location has no such unit.
func (l Location) AirHandler(subrole string) *AirHandlerParams {
	if l.AirHandlers == nil {
		return nil
	}
	return l.AirHandlers[subrole]
}

type file struct {
	Locations []Location        `yaml:"locations"`
	Aliases   map[string]string `yaml:"aliases"`
}

// Registry is the loaded location set. Read-mostly; reloads take the
// write lock.
type Registry struct {
	mu        sync.RWMutex
	locations map[string]Location
	order     []string
	aliases   map[string]string

	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	onReload []func()
}

// Load parses a registry from YAML bytes.
func Load(data []byte, logger *zap.Logger) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}
	r := &Registry{logger: logger.Named("locations")}
	if err := r.install(f.Locations, f.Aliases); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile parses a registry from an on-disk YAML file.
func LoadFile(path string, logger *zap.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations file: %w", err)
	}
	r, err := Load(data, logger)
	if err != nil {
		return nil, err
	}
	r.path = path
	return r, nil
}

// LoadDefault parses the embedded registry.
func LoadDefault(logger *zap.Logger) (*Registry, error) {
	return Load(defaultRegistry, logger)
}

func (r *Registry) install(locs []Location, aliases map[string]string) error {
	m := make(map[string]Location, len(locs))
	order := make([]string, 0, len(locs))
	for _, l := range locs {
		if l.ID == "" {
			return fmt.Errorf("location with empty id")
		}
		if _, dup := m[l.ID]; dup {
			return fmt.Errorf("duplicate location id %q", l.ID)
		}
		for _, e := range l.Equipment {
			if _, ok := domain.CanonicalType(e.Type); !ok {
				return fmt.Errorf("location %s: equipment %s has unknown type %q", l.ID, e.ID, e.Type)
			}
		}
		m[l.ID] = l
		order = append(order, l.ID)
	}

	r.mu.Lock()
	r.locations = m
	r.order = order
	r.aliases = aliases
	r.mu.Unlock()
	return nil
}

// Aliases returns the historical-spelling map: alias id to canonical
// equipment id. Seeded into the metadata repository on startup.
func (r *Registry) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}

// Get returns one location's profile.
func (r *Registry) Get(id string) (Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.locations[id]
	return l, ok
}

// All returns the locations in file order.
func (r *Registry) All() []Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Location, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.locations[id])
	}
	return out
}

// AllEquipment flattens the roster across locations with each entry's
// location filled in.
func (r *Registry) AllEquipment() []domain.Equipment {
	var out []domain.Equipment
	for _, l := range r.All() {
		for _, e := range l.Equipment {
			typ, _ := domain.CanonicalType(e.Type)
			out = append(out, domain.Equipment{
				ID:         e.ID,
				Name:       e.Name,
				Type:       typ,
				LocationID: l.ID,
				GroupID:    e.GroupID,
				Subrole:    e.Subrole,
			})
		}
	}
	return out
}

// OnReload registers a callback invoked after a successful hot reload.
func (r *Registry) OnReload(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = append(r.onReload, fn)
}

// Watch hot-reloads the on-disk file when it changes. No-op for the
// embedded registry. Call in a goroutine; returns when done is closed.
func (r *Registry) Watch(done <-chan struct{}) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("locations watcher: %w", err)
	}
	r.watcher = w
	if err := w.Add(r.path); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", r.path, err)
	}

	for {
		select {
		case <-done:
			return w.Close()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Warn("locations reload failed, keeping previous registry", zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("locations watcher", zap.Error(err))
		}
	}
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	if err := r.install(f.Locations, f.Aliases); err != nil {
		return err
	}
	r.logger.Info("locations registry reloaded", zap.Int("locations", len(f.Locations)))

	r.mu.RLock()
	callbacks := append([]func(){}, r.onReload...)
	r.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}
