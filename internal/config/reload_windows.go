//go:build windows

package config

// registerSignalHandler does nothing on Windows, which has no SIGHUP. The
// file watcher still drives config reloads there.
func (r *Reloader) registerSignalHandler() {
	r.logger.Info("SIGHUP unavailable on this platform, relying on file watcher for config reload")
}
