// Package config loads and validates the single YAML configuration document
// that drives the edge service: listener bind address, destination peer,
// spool directories, watcher debounce tuning, processing/anonymisation
// rules, feature flags, and logging sinks.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved configuration record. It is built once at
// startup and passed by value (or as a read-only pointer) into every
// component constructor; nothing in this service reads configuration from
// a package-level global.
type Config struct {
	DicomListener    DicomListenerConfig    `yaml:"dicom_listener"`
	DicomDestination DicomDestinationConfig `yaml:"dicom_destination"`
	Directories      DirectoriesConfig      `yaml:"directories"`
	Watcher          WatcherConfig          `yaml:"watcher"`
	Processing       ProcessingConfig       `yaml:"processing"`
	Anonymization    AnonymizationConfig    `yaml:"anonymization"`
	FeatureFlags     FeatureFlagsConfig     `yaml:"feature_flags"`
	Logging          LoggingConfig          `yaml:"logging"`
}

// DicomListenerConfig configures the C-STORE SCP.
type DicomListenerConfig struct {
	Host                         string `yaml:"host"`
	Port                         int    `yaml:"port"`
	AETitle                      string `yaml:"ae_title"`
	UseNegotiatedTransferSyntax  bool   `yaml:"use_negotiated_transfer_syntax"`
}

// DicomDestinationConfig configures the C-STORE SCU peer.
type DicomDestinationConfig struct {
	IP      string `yaml:"ip"`
	Port    int    `yaml:"port"`
	AETitle string `yaml:"ae_title"`
}

// DirectoriesConfig configures the spool/log filesystem layout.
type DirectoriesConfig struct {
	Working         string `yaml:"working"`
	Logs            string `yaml:"logs"`
	QuarantineSubdir string `yaml:"quarantine_subdir"`
}

// WatcherConfig tunes the debounced dispatcher.
type WatcherConfig struct {
	DebounceIntervalSeconds  int `yaml:"debounce_interval_seconds"`
	MinFileCountForProcessing int `yaml:"min_file_count_for_processing"`
}

// ProcessingConfig tunes the contour engine and series synthesiser.
type ProcessingConfig struct {
	IgnoreContourNamesContaining []string `yaml:"ignore_contour_names_containing"`
	OverlaySeriesNumber          int      `yaml:"overlay_series_number"`
	OverlaySeriesDescription     string   `yaml:"overlay_series_description"`
	AddBurnInDisclaimer          bool     `yaml:"add_burn_in_disclaimer"`
	BurnInText                   string   `yaml:"burn_in_text"`
}

// AnonymizationRules lists the tag-level rewrite rules applied by the
// anonymize package.
type AnonymizationRules struct {
	RemoveTags              []string `yaml:"remove_tags"`
	BlankTags                []string `yaml:"blank_tags"`
	GenerateRandomIDPrefix  string   `yaml:"generate_random_id_prefix"`
}

// AnonymizationConfig gates and configures anonymisation.
type AnonymizationConfig struct {
	Enabled                  bool               `yaml:"enabled"`
	FullAnonymizationEnabled bool               `yaml:"full_anonymization_enabled"`
	Rules                    AnonymizationRules `yaml:"rules"`
}

// FeatureFlagsConfig gates optional, non-core behaviour.
type FeatureFlagsConfig struct {
	EnableSegmentationExport  bool `yaml:"enable_segmentation_export"`
	EnableDebugVisualisation bool `yaml:"enable_debug_visualisation"`
}

// LoggingConfig configures the two named log sinks.
type LoggingConfig struct {
	Level               string `yaml:"level"`
	Format              string `yaml:"format"`
	ApplicationLogFile  string `yaml:"application_log_file"`
	TransactionLogFile  string `yaml:"transaction_log_file"`
}

// Default returns the configuration defaults mirrored from the reference
// implementation's config loader, before any user YAML is applied.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		DicomListener: DicomListenerConfig{
			Host:                        "0.0.0.0",
			Port:                        11112,
			AETitle:                     "NETRT",
			UseNegotiatedTransferSyntax: true,
		},
		DicomDestination: DicomDestinationConfig{
			IP:      "127.0.0.1",
			Port:    104,
			AETitle: "ARCHIVE",
		},
		Directories: DirectoriesConfig{
			Working:          filepath.Join(home, "CNCT_working"),
			Logs:             filepath.Join(home, "CNCT_logs"),
			QuarantineSubdir: "quarantine",
		},
		Watcher: WatcherConfig{
			DebounceIntervalSeconds:   5,
			MinFileCountForProcessing: 2,
		},
		Processing: ProcessingConfig{
			IgnoreContourNamesContaining: []string{"skull", "patient_outline"},
			OverlaySeriesNumber:          0,
			OverlaySeriesDescription:     "Unapproved Treatment Plan CT w Mask",
			AddBurnInDisclaimer:          true,
			BurnInText:                   "RESEARCH IMAGE - Not for diagnostic purpose",
		},
		Anonymization: AnonymizationConfig{
			Enabled: false,
			Rules: AnonymizationRules{
				RemoveTags: []string{"AccessionNumber", "PatientID"},
			},
		},
		FeatureFlags: FeatureFlagsConfig{
			EnableSegmentationExport:  false,
			EnableDebugVisualisation: false,
		},
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "text",
			ApplicationLogFile: "application.log",
			TransactionLogFile: "transaction.log",
		},
	}
}

// Load reads path, deep-merging it over Default(). If path does not exist
// or is empty, the defaults are written to path so the operator has a
// starting point, and loading proceeds with those defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "./config.yaml"
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if writeErr := writeDefault(path, cfg); writeErr != nil {
			return nil, fmt.Errorf("config: write default %s: %w", path, writeErr)
		}
		return cfg, nil
	}

	if len(data) == 0 {
		if writeErr := writeDefault(path, cfg); writeErr != nil {
			return nil, fmt.Errorf("config: write default %s: %w", path, writeErr)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func writeDefault(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate enforces the invariants Load relies on: a config-error here
// must refuse to start the service, per the error handling policy.
func (c *Config) Validate() error {
	if c.DicomListener.Port <= 0 || c.DicomListener.Port > 65535 {
		return fmt.Errorf("dicom_listener.port %d out of range", c.DicomListener.Port)
	}
	if c.DicomListener.AETitle == "" {
		return fmt.Errorf("dicom_listener.ae_title must not be empty")
	}
	if c.DicomDestination.IP == "" {
		return fmt.Errorf("dicom_destination.ip must not be empty")
	}
	if c.DicomDestination.AETitle == "" {
		return fmt.Errorf("dicom_destination.ae_title must not be empty")
	}
	if c.Directories.Working == "" {
		return fmt.Errorf("directories.working must not be empty")
	}
	if c.Watcher.DebounceIntervalSeconds <= 0 {
		return fmt.Errorf("watcher.debounce_interval_seconds must be positive")
	}
	if c.Watcher.MinFileCountForProcessing <= 0 {
		return fmt.Errorf("watcher.min_file_count_for_processing must be positive")
	}
	return nil
}
