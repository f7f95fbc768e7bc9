package config

const (
	// FullDatasetFolder is preferred over DemoDatasetFolder when both exist.
	FullDatasetFolder = "gallery"
	DemoDatasetFolder = "demo_data"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Source.Folders) == 0 {
		cfg.Source.Folders = []string{FullDatasetFolder, DemoDatasetFolder}
	}
	if cfg.Source.Extensions == nil {
		cfg.Source.Extensions = []string{".jpg", ".png"}
	}
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = "onnx"
	}
	if cfg.Model.WeightsPath == "" {
		cfg.Model.WeightsPath = "vit-dinov2-base.onnx"
	}
	if cfg.Model.InputName == "" {
		cfg.Model.InputName = "pixel_values"
	}
	if cfg.Model.OutputName == "" {
		cfg.Model.OutputName = "pooler_output"
	}
	if cfg.Model.Dimensions == 0 {
		cfg.Model.Dimensions = 768
	}
	if cfg.Model.ImageSize == 0 {
		cfg.Model.ImageSize = 224
	}
	if cfg.Model.MinFileSize == 0 {
		cfg.Model.MinFileSize = 1024
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 100
	}
	// Capped at 4 regardless of CPU count so small machines stay responsive.
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Output.FeaturesPath == "" {
		cfg.Output.FeaturesPath = "index_features.npy"
	}
	if cfg.Output.PathsPath == "" {
		cfg.Output.PathsPath = "index_paths.npy"
	}
	if cfg.Output.ReportPath == "" {
		cfg.Output.ReportPath = "index_report.db"
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 2000
	}
}
