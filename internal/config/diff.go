package config

// Diff lists the top-level settings that differ between two configs, as
// dotted field paths. Used for reload logging so operators can see what a
// live edit actually changed.
func Diff(old, new *Config) []string {
	if old == nil || new == nil {
		return nil
	}
	var changed []string
	add := func(path string, differs bool) {
		if differs {
			changed = append(changed, path)
		}
	}

	add("ops.listen_addr", old.Ops.ListenAddr != new.Ops.ListenAddr)
	add("ops.log_level", old.Ops.LogLevel != new.Ops.LogLevel)
	add("assistant.endpoint", old.Assistant.Endpoint != new.Assistant.Endpoint)
	add("assistant.connect_timeout", old.Assistant.ConnectTimeout != new.Assistant.ConnectTimeout)
	add("audio.block_size", old.Audio.BlockSize != new.Audio.BlockSize)
	add("audio.echo_cancellation", old.Audio.EchoCancellation != new.Audio.EchoCancellation)
	add("audio.noise_suppression", old.Audio.NoiseSuppression != new.Audio.NoiseSuppression)
	add("audio.auto_gain_control", old.Audio.AutoGainControl != new.Audio.AutoGainControl)

	return changed
}
