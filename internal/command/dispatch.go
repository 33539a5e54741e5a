package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/fusion-bridge/internal/assembler"
	"github.com/banshee-data/fusion-bridge/internal/metrics"
	"github.com/banshee-data/fusion-bridge/internal/monitoring"
	"github.com/banshee-data/fusion-bridge/internal/sensor"
)

// DefaultTimeout bounds a single service call.
const DefaultTimeout = 5 * time.Second

// ErrUnknownCommand is returned for kinds without a dispatch entry.
var ErrUnknownCommand = errors.New("command: not handled")

// ServiceCaller performs one request/response call to a named service.
type ServiceCaller interface {
	Call(ctx context.Context, service string, req *structpb.Struct) (*structpb.Struct, error)
}

// MapSink receives the result of a PublishMap command.
type MapSink interface {
	ProcessMap(assembler.Graph)
	MapError(err error)
}

// Options configures a Dispatcher.
type Options struct {
	// CameraNodeName, when set, is paused and resumed with the mapping core.
	CameraNodeName string
	// Timeout bounds each call. Zero selects DefaultTimeout.
	Timeout time.Duration
	// OnReset runs after the mapping core accepted a reset or an odometry
	// reset, so buffered input from before the reset is discarded.
	OnReset func()
	Metrics *metrics.Metrics
}

type severity int

const (
	quiet severity = iota
	warn
	fail
)

type handler func(ctx context.Context, cmd Command) error

// Dispatcher executes commands. Every service call is a single attempt;
// failures are logged and returned, never retried.
type Dispatcher struct {
	caller ServiceCaller
	maps   MapSink
	opts   Options
	table  map[Kind]handler
}

// NewDispatcher returns a Dispatcher. maps may be nil when map requests are
// not expected.
func NewDispatcher(caller ServiceCaller, maps MapSink, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	d := &Dispatcher{caller: caller, maps: maps, opts: opts}
	d.table = map[Kind]handler{
		Reset:            d.resetting("reset"),
		TriggerNewMap:    d.simple("trigger_new_map"),
		CancelGoal:       d.simple("cancel_goal"),
		ResetOdometry:    d.resetting("reset_odom"),
		Pause:            d.pause,
		Resume:           d.resume,
		PublishMap:       d.publishMap,
		SetGoal:          d.nodeRequest("set_goal"),
		SetLabel:         d.nodeRequest("set_label"),
		UpdateParameters: d.updateParameters,
	}
	return d
}

// Dispatch runs cmd.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	h, ok := d.table[cmd.Kind]
	if !ok {
		monitoring.Opsf("[Command] warning: not handled command (%v)", cmd.Kind)
		return fmt.Errorf("%w: %v", ErrUnknownCommand, cmd.Kind)
	}
	monitoring.Diagf("[Command] dispatching %v (id=%s)", cmd.Kind, cmd.ID)
	return h(ctx, cmd)
}

func (d *Dispatcher) call(ctx context.Context, service string, fields map[string]any, sev severity) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("command: building %s request: %w", service, err)
	}
	cctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	resp, err := d.caller.Call(cctx, service, req)
	d.opts.Metrics.CommandCall(service, err)
	if err != nil {
		switch sev {
		case warn:
			monitoring.Opsf("[Command] warning: can't call %q service: %v", service, err)
		case fail:
			monitoring.Opsf("[Command] error: can't call %q service: %v", service, err)
		}
		return nil, fmt.Errorf("command: %s: %w", service, err)
	}
	return resp, nil
}

func (d *Dispatcher) simple(service string) handler {
	return func(ctx context.Context, _ Command) error {
		_, err := d.call(ctx, service, nil, fail)
		return err
	}
}

func (d *Dispatcher) resetting(service string) handler {
	call := d.simple(service)
	return func(ctx context.Context, cmd Command) error {
		if err := call(ctx, cmd); err != nil {
			return err
		}
		if d.opts.OnReset != nil {
			d.opts.OnReset()
		}
		return nil
	}
}

func (d *Dispatcher) nodeRequest(service string) handler {
	return func(ctx context.Context, cmd Command) error {
		_, err := d.call(ctx, service, map[string]any{
			"node_id":    cmd.NodeID,
			"node_label": cmd.Label,
		}, fail)
		return err
	}
}

func (d *Dispatcher) setCameraPaused(ctx context.Context, paused bool) {
	if d.opts.CameraNodeName == "" {
		return
	}
	_, _ = d.call(ctx, d.opts.CameraNodeName+"/set_parameters", map[string]any{"pause": paused}, warn)
}

// pause stops the camera, then odometry, then the mapping core. Only the
// mapping core failure is reported.
func (d *Dispatcher) pause(ctx context.Context, _ Command) error {
	d.setCameraPaused(ctx, true)
	_, _ = d.call(ctx, "pause_odom", nil, quiet)
	_, err := d.call(ctx, "pause", nil, fail)
	return err
}

// resume restarts in the reverse order of pause.
func (d *Dispatcher) resume(ctx context.Context, _ Command) error {
	_, err := d.call(ctx, "resume", nil, fail)
	_, _ = d.call(ctx, "resume_odom", nil, quiet)
	d.setCameraPaused(ctx, false)
	return err
}

func (d *Dispatcher) publishMap(ctx context.Context, cmd Command) error {
	resp, err := d.call(ctx, "get_map", map[string]any{
		"global":     cmd.Global,
		"optimized":  cmd.Optimized,
		"graph_only": cmd.GraphOnly,
	}, warn)
	if err != nil {
		if d.maps != nil {
			d.maps.MapError(err)
		}
		return err
	}
	m, err := mapDataFromResponse(resp)
	if err != nil {
		monitoring.Opsf("[Command] warning: invalid get_map response: %v", err)
		if d.maps != nil {
			d.maps.MapError(err)
		}
		return err
	}
	if d.maps != nil {
		d.maps.ProcessMap(assembler.GraphFromMapData(m))
	}
	return nil
}

// mapDataFromResponse reads the "data" field of a get_map response, or the
// whole response when that field is absent.
func mapDataFromResponse(resp *structpb.Struct) (*sensor.MapData, error) {
	var v any = resp.AsMap()
	if data, ok := resp.GetFields()["data"]; ok {
		v = data.AsInterface()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m sensor.MapData
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// updateParameters forwards parameters to the mapping core. Namespaced
// names (containing '/') do not belong to it and are skipped with a warning.
func (d *Dispatcher) updateParameters(ctx context.Context, cmd Command) error {
	names := make([]string, 0, len(cmd.Parameters))
	for name := range cmd.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make(map[string]any, len(names))
	for _, name := range names {
		if strings.Contains(name, "/") {
			monitoring.Opsf("[Command] warning: parameter %s is not used by the mapping node", name)
			continue
		}
		params[name] = cmd.Parameters[name]
	}
	if len(params) == 0 {
		return nil
	}
	monitoring.Diagf("[Command] updating %d parameters", len(params))
	_, err := d.call(ctx, "update_parameters", map[string]any{"parameters": params}, fail)
	return err
}
