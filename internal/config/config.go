package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/earti/camlift/internal/hw/rig"
	"github.com/earti/camlift/internal/hw/servo"
	"github.com/earti/camlift/internal/hw/stepper"
	"github.com/earti/camlift/internal/logic/geometry"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// StepperConfig holds the carriage driver (DRV8825/A4988) wiring.
type StepperConfig struct {
	StepPin       int   `yaml:"step_pin"      env:"CAMLIFT_STEPPER_STEP_PIN"`
	DirPin        int   `yaml:"dir_pin"       env:"CAMLIFT_STEPPER_DIR_PIN"`
	EnablePin     int   `yaml:"enable_pin"    env:"CAMLIFT_STEPPER_ENABLE_PIN"` // 0 = not used. Active LOW.
	SleepPin      int   `yaml:"sleep_pin"     env:"CAMLIFT_STEPPER_SLEEP_PIN"`  // 0 = tied high on the board
	ResetPin      int   `yaml:"reset_pin"     env:"CAMLIFT_STEPPER_RESET_PIN"`
	ModePins      []int `yaml:"mode_pins"     env:"CAMLIFT_STEPPER_MODE_PINS" envSeparator:","` // M0, M1, M2
	Microstepping int   `yaml:"microstepping" env:"CAMLIFT_STEPPER_MICROSTEPPING"`
	PulseUs       int   `yaml:"pulse_us"      env:"CAMLIFT_STEPPER_PULSE_US"` // STEP high and low time
}

// ServoConfig holds the pan servo wiring and pulse range.
type ServoConfig struct {
	Pin        int `yaml:"pin"          env:"CAMLIFT_SERVO_PIN"` // must be a hardware PWM pin
	MinPulseUs int `yaml:"min_pulse_us" env:"CAMLIFT_SERVO_MIN_PULSE_US"`
	MaxPulseUs int `yaml:"max_pulse_us" env:"CAMLIFT_SERVO_MAX_PULSE_US"`
	PeriodUs   int `yaml:"period_us"    env:"CAMLIFT_SERVO_PERIOD_US"`
}

// LimitConfig holds the top-of-travel switch wiring.
type LimitConfig struct {
	Pin int `yaml:"pin" env:"CAMLIFT_LIMIT_PIN"`
}

// TravelConfig is the fixed carriage geometry, in steps.
type TravelConfig struct {
	MaxSteps     int `yaml:"max_steps"      env:"CAMLIFT_TRAVEL_MAX_STEPS"`
	StepsPerSlot int `yaml:"steps_per_slot" env:"CAMLIFT_TRAVEL_STEPS_PER_SLOT"`
	SlotCount    int `yaml:"slot_count"     env:"CAMLIFT_TRAVEL_SLOT_COUNT"`
	StepBatch    int `yaml:"step_batch"     env:"CAMLIFT_TRAVEL_STEP_BATCH"`
}

// PanConfig shapes one pan command.
type PanConfig struct {
	StepCount   int `yaml:"step_count"   env:"CAMLIFT_PAN_STEP_COUNT"`
	IncrementUs int `yaml:"increment_us" env:"CAMLIFT_PAN_INCREMENT_US"`
	IntervalMs  int `yaml:"interval_ms"  env:"CAMLIFT_PAN_INTERVAL_MS"`
}

// GatewayConfig configures the WebSocket command gateway.
type GatewayConfig struct {
	Listen             string   `yaml:"listen"               env:"CAMLIFT_GATEWAY_LISTEN"`
	Zone               string   `yaml:"zone"                 env:"CAMLIFT_GATEWAY_ZONE"`
	RejectForeignZones bool     `yaml:"reject_foreign_zones" env:"CAMLIFT_GATEWAY_REJECT_FOREIGN_ZONES"`
	PingInterval       string   `yaml:"ping_interval"        env:"CAMLIFT_GATEWAY_PING_INTERVAL"`
	PingTimeout        string   `yaml:"ping_timeout"         env:"CAMLIFT_GATEWAY_PING_TIMEOUT"`
	MaxMessageBytes    int64    `yaml:"max_message_bytes"    env:"CAMLIFT_GATEWAY_MAX_MESSAGE_BYTES"`
	MaxQueued          int      `yaml:"max_queued"           env:"CAMLIFT_GATEWAY_MAX_QUEUED"`
	CommandsPerSecond  float64  `yaml:"commands_per_second"  env:"CAMLIFT_GATEWAY_COMMANDS_PER_SECOND"` // 0 = unlimited
	Burst              int      `yaml:"burst"                env:"CAMLIFT_GATEWAY_BURST"`
	OriginPatterns     []string `yaml:"origin_patterns"      env:"CAMLIFT_GATEWAY_ORIGIN_PATTERNS" envSeparator:","`
}

// SupervisorConfig configures health reporting.
type SupervisorConfig struct {
	HealthInterval string `yaml:"health_interval" env:"CAMLIFT_SUPERVISOR_HEALTH_INTERVAL"`
}

// DiscoveryConfig configures the optional mDNS advertisement.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"  env:"CAMLIFT_DISCOVERY_ENABLED"`
	Instance string `yaml:"instance" env:"CAMLIFT_DISCOVERY_INSTANCE"` // default: camlift-<zone>
}

// DefaultsConfig contains process-wide settings.
type DefaultsConfig struct {
	DebugLevel  int    `yaml:"debug_level"   env:"CAMLIFT_DEBUG_LEVEL"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	LogFormat   string `yaml:"log_format"    env:"CAMLIFT_LOG_FORMAT"`  // "text" or "json"
	MockGPIO    bool   `yaml:"mock_gpio"     env:"CAMLIFT_MOCK_GPIO"`   // simulated rig (true=dev/test, false=real Raspberry Pi)
	MockStart   int    `yaml:"mock_start"    env:"CAMLIFT_MOCK_START"`  // simulated steps below the top at power-on
	HomeOnStart *bool  `yaml:"home_on_start" env:"CAMLIFT_HOME_ON_START"`
}

// Config aggregates all application configuration.
type Config struct {
	Stepper    StepperConfig    `yaml:"stepper"`
	Servo      ServoConfig      `yaml:"servo"`
	Limit      LimitConfig      `yaml:"limit"`
	Travel     TravelConfig     `yaml:"travel"`
	Pan        PanConfig        `yaml:"pan"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files directly inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q: extension must be .yaml", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("config path %q: %w", path, err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q: file must be in a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies CAMLIFT_* environment overrides and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	if c.Stepper.Microstepping <= 0 {
		c.Stepper.Microstepping = 1
	}
	if c.Stepper.PulseUs <= 0 {
		c.Stepper.PulseUs = 500
	}
	if c.Servo.MinPulseUs == 0 && c.Servo.MaxPulseUs == 0 {
		c.Servo.MinPulseUs, c.Servo.MaxPulseUs = 1000, 2000
	}
	if c.Servo.PeriodUs <= 0 {
		c.Servo.PeriodUs = 20000
	}

	if c.Travel.MaxSteps <= 0 {
		c.Travel.MaxSteps = 4400
	}
	if c.Travel.StepsPerSlot <= 0 {
		c.Travel.StepsPerSlot = 440
	}
	if c.Travel.SlotCount <= 0 {
		c.Travel.SlotCount = geometry.MaxSlots
	}
	if c.Travel.StepBatch <= 0 {
		c.Travel.StepBatch = 40
	}

	if c.Pan.StepCount <= 0 {
		c.Pan.StepCount = 15
	}
	if c.Pan.IncrementUs <= 0 {
		c.Pan.IncrementUs = 1
	}
	if c.Pan.IntervalMs < 0 {
		c.Pan.IntervalMs = 0
	}

	if c.Gateway.Listen == "" {
		c.Gateway.Listen = ":8765"
	}
	if c.Gateway.PingInterval == "" {
		c.Gateway.PingInterval = "20s"
	}
	if c.Gateway.PingTimeout == "" {
		c.Gateway.PingTimeout = "10s"
	}
	if c.Gateway.MaxMessageBytes <= 0 {
		c.Gateway.MaxMessageBytes = 1 << 20
	}
	if c.Gateway.MaxQueued <= 0 {
		c.Gateway.MaxQueued = 32
	}
	if c.Gateway.CommandsPerSecond > 0 && c.Gateway.Burst <= 0 {
		c.Gateway.Burst = 1
	}

	if c.Supervisor.HealthInterval == "" {
		c.Supervisor.HealthInterval = "30s"
	}

	if c.Discovery.Instance == "" {
		c.Discovery.Instance = "camlift"
		if c.Gateway.Zone != "" {
			c.Discovery.Instance += "-" + c.Gateway.Zone
		}
	}

	c.Defaults.LogFormat = strings.ToLower(c.Defaults.LogFormat)
	if c.Defaults.LogFormat == "" {
		c.Defaults.LogFormat = "text"
	}
	if c.Defaults.HomeOnStart == nil {
		home := true
		c.Defaults.HomeOnStart = &home
	}
}

// Validate checks the startup invariants. Errors name the offending key.
func (c *Config) Validate() error {
	if err := c.Travel.Geometry().Validate(); err != nil {
		return fmt.Errorf("travel: %w", err)
	}
	if _, err := stepper.ModeLevels(c.Stepper.Microstepping); err != nil {
		return fmt.Errorf("stepper.microstepping: %w", err)
	}
	if n := len(c.Stepper.ModePins); n != 0 && n != 3 {
		return fmt.Errorf("stepper.mode_pins must list M0, M1, M2 (got %d pins)", n)
	}
	if !c.Defaults.MockGPIO {
		if c.Stepper.StepPin <= 0 || c.Stepper.DirPin <= 0 {
			return errors.New("stepper.step_pin and stepper.dir_pin are required")
		}
		if c.Servo.Pin <= 0 {
			return errors.New("servo.pin is required")
		}
		if c.Limit.Pin <= 0 {
			return errors.New("limit.pin is required")
		}
	}
	if c.Servo.MinPulseUs <= 0 || c.Servo.MinPulseUs >= c.Servo.MaxPulseUs {
		return fmt.Errorf("servo.min_pulse_us (%d) must be > 0 and < servo.max_pulse_us (%d)", c.Servo.MinPulseUs, c.Servo.MaxPulseUs)
	}
	if c.Servo.MaxPulseUs > c.Servo.PeriodUs {
		return fmt.Errorf("servo.max_pulse_us (%d) exceeds servo.period_us (%d)", c.Servo.MaxPulseUs, c.Servo.PeriodUs)
	}
	if c.Gateway.CommandsPerSecond < 0 {
		return fmt.Errorf("gateway.commands_per_second must be >= 0, got %v", c.Gateway.CommandsPerSecond)
	}
	for key, v := range map[string]string{
		"gateway.ping_interval":      c.Gateway.PingInterval,
		"gateway.ping_timeout":       c.Gateway.PingTimeout,
		"supervisor.health_interval": c.Supervisor.HealthInterval,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", key, v)
		}
	}
	if c.HealthInterval() < time.Second {
		return fmt.Errorf("supervisor.health_interval must be at least 1s, got %s", c.Supervisor.HealthInterval)
	}
	switch c.Defaults.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("defaults.log_format must be text or json, got %q", c.Defaults.LogFormat)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// Geometry returns the travel settings as slot geometry.
func (t TravelConfig) Geometry() geometry.Travel {
	return geometry.Travel{
		MaxSteps:     t.MaxSteps,
		StepsPerSlot: t.StepsPerSlot,
		SlotCount:    t.SlotCount,
		Batch:        t.StepBatch,
	}
}

// StepperPulse returns the STEP half-period.
func (c *Config) StepperPulse() time.Duration {
	return time.Duration(c.Stepper.PulseUs) * time.Microsecond
}

// PanInterval returns the pause between pan micro-adjustments.
func (c *Config) PanInterval() time.Duration {
	return time.Duration(c.Pan.IntervalMs) * time.Millisecond
}

// PingInterval returns the WebSocket keepalive period (0 = disabled).
func (c *Config) PingInterval() time.Duration {
	return durationOrZero(c.Gateway.PingInterval)
}

// PingTimeout bounds each keepalive ping.
func (c *Config) PingTimeout() time.Duration {
	return durationOrZero(c.Gateway.PingTimeout)
}

// HealthInterval returns the supervisor report period.
func (c *Config) HealthInterval() time.Duration {
	return durationOrZero(c.Supervisor.HealthInterval)
}

// PanMidpoint is the pulse width the servo is parked at on startup.
func (c *Config) PanMidpoint() int {
	return c.Servo.MinPulseUs + (c.Servo.MaxPulseUs-c.Servo.MinPulseUs)/2
}

// HomeOnStart reports whether the carriage homes before accepting commands.
func (c *Config) HomeOnStart() bool {
	return c.Defaults.HomeOnStart == nil || *c.Defaults.HomeOnStart
}

// ModePins returns the M0-M2 pins, or zeros when not wired.
func (c *Config) ModePins() [3]int {
	var pins [3]int
	copy(pins[:], c.Stepper.ModePins)
	return pins
}

// Rig returns the pin assignments of the hardware rig.
func (c *Config) Rig() rig.Config {
	return rig.Config{
		Stepper: stepper.Config{
			StepPin:       c.Stepper.StepPin,
			DirPin:        c.Stepper.DirPin,
			EnablePin:     c.Stepper.EnablePin,
			SleepPin:      c.Stepper.SleepPin,
			ResetPin:      c.Stepper.ResetPin,
			ModePins:      c.ModePins(),
			Microstepping: c.Stepper.Microstepping,
			PulseWidth:    c.StepperPulse(),
		},
		Servo: servo.Config{
			Pin:      c.Servo.Pin,
			MinPulse: c.Servo.MinPulseUs,
			MaxPulse: c.Servo.MaxPulseUs,
			PeriodUs: c.Servo.PeriodUs,
		},
		LimitPin: c.Limit.Pin,
	}
}

// Simulator returns the simulated rig used when defaults.mock_gpio is set.
func (c *Config) Simulator() rig.SimConfig {
	return rig.SimConfig{
		StartSteps:  c.Defaults.MockStart,
		TravelSteps: c.Travel.MaxSteps + c.Travel.StepBatch,
		MinPulse:    c.Servo.MinPulseUs,
		MaxPulse:    c.Servo.MaxPulseUs,
		PulseWidth:  c.StepperPulse(),
	}
}

// durationOrZero parses a duration checked by Validate; bad input yields 0.
func durationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
