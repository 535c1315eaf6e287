package device

import "context"

// MergeSettings merges setting layers in increasing precedence: a key in a
// later layer overrides the same key in any earlier layer. The merge is
// shallow and per-key; nested maps are replaced wholesale, not recursed
// into, so a layer's value for a key is always exactly what it set.
//
// Nil layers are skipped. The result is a fresh map; inputs are not mutated.
func MergeSettings(layers ...Settings) Settings {
	merged := make(Settings)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = deepCopyValue(v)
		}
	}
	return merged
}

// SettingsResolver computes the effective settings for a device by merging
// three layers in increasing precedence:
//
//	global defaults < group settings (in group merge order) < device overrides
//
// Device overrides always win for a key they define. Across multiple groups
// the group's own ordering decides: the last group in merge order wins ties.
type SettingsResolver struct {
	devices  *Store
	groups   GroupRepository
	defaults Settings
}

// NewSettingsResolver creates a resolver.
// defaults is the global base layer; nil means no global defaults.
func NewSettingsResolver(devices *Store, groups GroupRepository, defaults Settings) *SettingsResolver {
	return &SettingsResolver{
		devices:  devices,
		groups:   groups,
		defaults: defaults,
	}
}

// EffectiveSettings resolves the merged settings for a device.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *SettingsResolver) EffectiveSettings(ctx context.Context, deviceID string) (Settings, error) {
	device, err := r.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	groups, err := r.groups.GetGroupsForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	layers := make([]Settings, 0, len(groups)+2)
	layers = append(layers, r.defaults)
	for i := range groups {
		layers = append(layers, groups[i].Settings)
	}
	layers = append(layers, device.Settings)

	return MergeSettings(layers...), nil
}
