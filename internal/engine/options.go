package engine

import "maps"

// Execution provider names.
const (
	ProviderWebNN  = "webnn"
	ProviderWebGPU = "webgpu"
)

// Output locations for PreferredOutputLocation.
const (
	LocationCPU       = "cpu"
	LocationGPUBuffer = "gpu-buffer"
)

// Provider selects an execution provider. DeviceType and PowerPreference
// only apply to the neural-accelerator provider.
type Provider struct {
	Name            string `json:"name"`
	DeviceType      string `json:"deviceType,omitempty"`
	PowerPreference string `json:"powerPreference,omitempty"`
}

// Options are session creation options. Unset fields (nil pointers, empty
// strings and maps) inherit from the options they are merged onto.
type Options struct {
	ExecutionProviders      []Provider        `json:"executionProviders,omitempty"`
	GraphOptimizationLevel  string            `json:"graphOptimizationLevel,omitempty"`
	EnableMemPattern        *bool             `json:"enableMemPattern,omitempty"`
	EnableCPUMemArena       *bool             `json:"enableCpuMemArena,omitempty"`
	IntraOpNumThreads       int               `json:"intraOpNumThreads,omitempty"`
	FreeDimensionOverrides  map[string]int    `json:"freeDimensionOverrides,omitempty"`
	PreferredOutputLocation map[string]string `json:"preferredOutputLocation,omitempty"`
	Extra                   map[string]string `json:"extra,omitempty"`
}

// Session config keys set on every compile.
const (
	ExtraDisablePrepacking           = "session.disable_prepacking"
	ExtraDeviceAllocatorInitializers = "session.use_device_allocator_for_initializers"
	ExtraModelBytesDirectly          = "session.use_ort_model_bytes_directly"
	ExtraModelBytesForInitializers   = "session.use_ort_model_bytes_for_initializers"
)

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Merge returns o overlaid with over: set fields of over win, maps are
// combined key by key.
func (o Options) Merge(over Options) Options {
	out := o
	if len(over.ExecutionProviders) > 0 {
		out.ExecutionProviders = append([]Provider(nil), over.ExecutionProviders...)
	} else {
		out.ExecutionProviders = append([]Provider(nil), o.ExecutionProviders...)
	}
	if over.GraphOptimizationLevel != "" {
		out.GraphOptimizationLevel = over.GraphOptimizationLevel
	}
	if over.EnableMemPattern != nil {
		out.EnableMemPattern = Bool(*over.EnableMemPattern)
	}
	if over.EnableCPUMemArena != nil {
		out.EnableCPUMemArena = Bool(*over.EnableCPUMemArena)
	}
	if over.IntraOpNumThreads != 0 {
		out.IntraOpNumThreads = over.IntraOpNumThreads
	}
	out.FreeDimensionOverrides = mergeMap(o.FreeDimensionOverrides, over.FreeDimensionOverrides)
	out.PreferredOutputLocation = mergeMap(o.PreferredOutputLocation, over.PreferredOutputLocation)
	out.Extra = mergeMap(o.Extra, over.Extra)
	return out
}

// OutputLocation reports where the named output should be placed.
func (o Options) OutputLocation(name string) string {
	if loc, ok := o.PreferredOutputLocation[name]; ok {
		return loc
	}
	return LocationCPU
}

func mergeMap[V any](a, b map[string]V) map[string]V {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]V, len(a)+len(b))
	maps.Copy(out, a)
	maps.Copy(out, b)
	return out
}
