// Package config loads run configuration and builds the lab device
// inventory. Every setting is reachable through a YAML file or an
// UPROOT_ environment variable.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/HerbHall/uproot/pkg/models"
)

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("run.apply_changes", false)
	v.SetDefault("run.write_memory", false)
	v.SetDefault("run.seed", 0)
	v.SetDefault("run.gateway_link", "ens4")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "./data/uproot.db")
	v.SetDefault("baselines.branch_fw", "/opt/uproot/pfsense/lab1-branch_fw_default_config.xml")
	v.SetDefault("baselines.app_fw", "/opt/uproot/pfsense/lab1-app_fw_default_config.xml")
	v.SetDefault("exclusions.switch_ports", []string{})

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("uproot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/uproot")
	}

	// Environment variable support: UPROOT_RUN_APPLY_CHANGES=true
	v.SetEnvPrefix("UPROOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

// Options carries the run-wide switches the orchestrators honor.
type Options struct {
	// ApplyChanges gates every mutating command. False means dry run.
	ApplyChanges bool
	// WriteMemory persists CLI changes to startup config.
	WriteMemory bool
	// Seed fixes the fault selector's randomness when non-zero.
	Seed int64
	// GatewayLink is the local interface fronting the lab.
	GatewayLink string
}

// LoadOptions extracts the run options from loaded configuration.
func LoadOptions(v *viper.Viper) Options {
	return Options{
		ApplyChanges: v.GetBool("run.apply_changes"),
		WriteMemory:  v.GetBool("run.write_memory"),
		Seed:         v.GetInt64("run.seed"),
		GatewayLink:  v.GetString("run.gateway_link"),
	}
}

// DeviceError reports a device that cannot participate in the run
// because its configuration is incomplete. It is surfaced in run
// output, never a process abort.
type DeviceError struct {
	Label  string
	Reason string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %s", e.Label, e.Reason)
}

// Inventory is the fixed lab topology: two firewalls, one switch, two
// service-provider routers. Devices with incomplete configuration are
// omitted and reported in Errors.
type Inventory struct {
	Firewalls []models.Device
	Switch    *models.Device
	Routers   []models.Device
	Errors    []*DeviceError
}

// Devices builds the inventory from loaded configuration. Values that
// are empty or spelled "none", "null" or "nil" (any case) count as
// absent.
func Devices(v *viper.Viper) Inventory {
	var inv Inventory

	for _, label := range []string{"branch_fw", "app_fw"} {
		dev, err := firewallDevice(v, label)
		if err != nil {
			inv.Errors = append(inv.Errors, err)
			continue
		}
		inv.Firewalls = append(inv.Firewalls, dev)
	}

	if dev, err := cliDevice(v, "switch1", models.RoleSwitch); err != nil {
		inv.Errors = append(inv.Errors, err)
	} else {
		inv.Switch = &dev
	}

	for _, label := range []string{"sp_router1", "sp_router2"} {
		dev, err := cliDevice(v, label, models.RoleRouter)
		if err != nil {
			inv.Errors = append(inv.Errors, err)
			continue
		}
		inv.Routers = append(inv.Routers, dev)
	}

	return inv
}

func firewallDevice(v *viper.Viper, label string) (models.Device, *DeviceError) {
	host := optional(v, "devices."+label+".host")
	if host == "" {
		return models.Device{}, &DeviceError{Label: label, Reason: "missing management host"}
	}

	creds := models.Credentials{
		APIKey:   optional(v, "devices."+label+".api_key"),
		Username: optional(v, "devices."+label+".username"),
		Password: optional(v, "devices."+label+".password"),
	}
	if creds.APIKey == "" {
		// Shared key fallback for labs that reuse one key everywhere.
		creds.APIKey = optional(v, "devices.pfsense_api_key")
	}
	if creds.APIKey == "" && !creds.HasBasic() {
		return models.Device{}, &DeviceError{
			Label:  label,
			Reason: "provide either an API key (preferred) or username/password for basic auth",
		}
	}

	return models.Device{
		Label:       label,
		Role:        models.RoleFirewall,
		Host:        host,
		Protocol:    models.ProtocolREST,
		Credentials: creds,
	}, nil
}

func cliDevice(v *viper.Viper, label string, role models.Role) (models.Device, *DeviceError) {
	host := optional(v, "devices."+label+".host")
	if host == "" {
		return models.Device{}, &DeviceError{Label: label, Reason: "missing management host"}
	}

	return models.Device{
		Label:    label,
		Role:     role,
		Host:     host,
		Protocol: models.ProtocolCLI,
		Credentials: models.Credentials{
			Username:     optional(v, "devices."+label+".username"),
			Password:     optional(v, "devices."+label+".password"),
			EnableSecret: optional(v, "devices."+label+".enable"),
		},
	}, nil
}

// optional reads a string setting, treating blank and the textual null
// spellings as absent.
func optional(v *viper.Viper, key string) string {
	val := strings.TrimSpace(v.GetString(key))
	switch strings.ToLower(val) {
	case "", "none", "null", "nil":
		return ""
	}
	return val
}
