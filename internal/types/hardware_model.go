package types

// HardwareModel describes one device model tag that firmware can target.
// Profiles are YAML files under models.search_paths.
type HardwareModel struct {
	Model    HardwareModelInfo `json:"hardware_model" yaml:"hardware_model"`
	Firmware FirmwareLimits    `json:"firmware" yaml:"firmware"`
	Sensors  []string          `json:"sensors,omitempty" yaml:"sensors,omitempty"`
}

type HardwareModelInfo struct {
	ID          string `json:"id" yaml:"id"`
	Vendor      string `json:"vendor" yaml:"vendor"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type FirmwareLimits struct {
	// MaxSizeBytes caps uploads for this model; 0 means the global limit applies.
	MaxSizeBytes int64  `json:"max_size_bytes,omitempty" yaml:"max_size_bytes,omitempty"`
	Partition    string `json:"partition,omitempty" yaml:"partition,omitempty"`
}
