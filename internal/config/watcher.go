package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"tremor/internal/logger"
	"tremor/pkg/cel"
	"tremor/pkg/metrics"
)

// Watch reloads the config file on change and swaps the store's snapshot.
func Watch(configFile string, store *Store, eval *cel.Evaluator, log logger.Logger) {
	w := viper.New()
	w.SetConfigFile(configFile)

	w.OnConfigChange(func(e fsnotify.Event) {
		log.Infow("Config file changed, reloading", "file", e.Name)
		Reload(configFile, store, eval, log)
	})

	w.WatchConfig()
}

// Reload loads, validates, and compiles the config file and swaps it into the
// store. A reload that fails any step is rejected and the prior snapshot
// stays active.
func Reload(configFile string, store *Store, eval *cel.Evaluator, log logger.Logger) {
	cfg, err := Load(configFile)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("rejected").Inc()
		log.Errorw("Reload rejected, keeping previous snapshot", "error", err)
		return
	}

	snap, err := Build(cfg, eval)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("rejected").Inc()
		log.Errorw("Reload rejected, keeping previous snapshot", "error", err)
		return
	}

	store.Swap(snap)
	metrics.ConfigReloadsTotal.WithLabelValues("applied").Inc()
	log.Infow("Config reloaded",
		"groups", len(snap.Groups),
		"sources", len(snap.Sources),
	)
}
