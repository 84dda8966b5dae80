package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/homevisit/visitgrid/internal/domain/routing"
	"github.com/homevisit/visitgrid/internal/platform/geo"
	"github.com/homevisit/visitgrid/internal/platform/timegrid"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	JWTIssuer   string   `mapstructure:"JWT_ISSUER"`

	// Calendar window as HH:MM; SlotHeightPx is the pixel height of one
	// 15-minute slot at zoom 1.
	DayStart     string  `mapstructure:"DAY_START"`
	DayEnd       string  `mapstructure:"DAY_END"`
	SlotHeightPx float64 `mapstructure:"SLOT_HEIGHT_PX"`

	HomeAddress string   `mapstructure:"HOME_ADDRESS"`
	HomeLat     *float64 `mapstructure:"-"`
	HomeLng     *float64 `mapstructure:"-"`
	RoutePolicy string   `mapstructure:"ROUTE_POLICY"`

	GeocoderURL       string        `mapstructure:"GEOCODER_URL"`
	GeocoderRPS       float64       `mapstructure:"GEOCODER_RPS"`
	DistanceMatrixURL string        `mapstructure:"DISTANCE_MATRIX_URL"`
	CoordCacheTTL     time.Duration `mapstructure:"COORD_CACHE_TTL"`

	SyncRemoteURL   string `mapstructure:"SYNC_REMOTE_URL"`
	SyncRemoteToken string `mapstructure:"SYNC_REMOTE_TOKEN"`
	SyncOutboxDir   string `mapstructure:"SYNC_OUTBOX_DIR"`
	SyncSweepSpec   string `mapstructure:"SYNC_SWEEP_SPEC"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"CORS_ORIGINS", "JWT_SECRET", "JWT_ISSUER",
	"DAY_START", "DAY_END", "SLOT_HEIGHT_PX",
	"HOME_ADDRESS", "HOME_LAT", "HOME_LNG", "ROUTE_POLICY",
	"GEOCODER_URL", "GEOCODER_RPS", "DISTANCE_MATRIX_URL", "COORD_CACHE_TTL",
	"SYNC_REMOTE_URL", "SYNC_REMOTE_TOKEN", "SYNC_OUTBOX_DIR", "SYNC_SWEEP_SPEC",
}

// Load reads .env (if present) and the environment. An empty DATABASE_URL
// selects the in-memory store.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_ISSUER", "visitgrid")
	v.SetDefault("DAY_START", "07:00")
	v.SetDefault("DAY_END", "19:00")
	v.SetDefault("SLOT_HEIGHT_PX", 20)
	v.SetDefault("ROUTE_POLICY", string(routing.PolicyNearest))
	v.SetDefault("GEOCODER_RPS", 1)
	v.SetDefault("COORD_CACHE_TTL", "24h")
	v.SetDefault("SYNC_SWEEP_SPEC", "@every 1m")

	for _, k := range keys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	// The home coordinate is optional, so it is read by hand: an unset
	// float would otherwise decode as 0,0.
	if v.GetString("HOME_LAT") != "" && v.GetString("HOME_LNG") != "" {
		lat, lng := v.GetFloat64("HOME_LAT"), v.GetFloat64("HOME_LNG")
		cfg.HomeLat, cfg.HomeLng = &lat, &lng
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Window returns the calendar window in minutes of the day.
func (c *Config) Window() (start, end int, err error) {
	start, err = timegrid.ParseClock(c.DayStart)
	if err != nil {
		return 0, 0, fmt.Errorf("DAY_START: %w", err)
	}
	if c.DayEnd == "24:00" {
		end = timegrid.MinutesPerDay
	} else if end, err = timegrid.ParseClock(c.DayEnd); err != nil {
		return 0, 0, fmt.Errorf("DAY_END: %w", err)
	}
	return start, end, nil
}

// Grid builds the time grid for the configured window.
func (c *Config) Grid() (timegrid.Grid, error) {
	start, end, err := c.Window()
	if err != nil {
		return timegrid.Grid{}, err
	}
	return timegrid.New(start, end, c.SlotHeightPx), nil
}

// Home returns the home base, or nil when none is configured.
func (c *Config) Home() *geo.Location {
	if c.HomeAddress == "" && c.HomeLat == nil {
		return nil
	}
	loc := &geo.Location{Key: "home", Address: c.HomeAddress}
	if c.HomeLat != nil && c.HomeLng != nil {
		loc.Stored = &geo.Coord{Lat: *c.HomeLat, Lng: *c.HomeLng}
	}
	return loc
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	start, end, err := c.Window()
	if err != nil {
		return err
	}
	if start%timegrid.SlotMinutes != 0 || end%timegrid.SlotMinutes != 0 {
		return fmt.Errorf("DAY_START and DAY_END must fall on a quarter hour")
	}
	if end-start < timegrid.SlotMinutes {
		return fmt.Errorf("DAY_END (%s) must be at least one slot after DAY_START (%s)", c.DayEnd, c.DayStart)
	}
	if c.SlotHeightPx <= 0 {
		return fmt.Errorf("SLOT_HEIGHT_PX must be positive, got %v", c.SlotHeightPx)
	}
	if home := c.Home(); home != nil && home.Stored != nil && !home.Stored.Valid() {
		return fmt.Errorf("HOME_LAT/HOME_LNG out of range: %v,%v", *c.HomeLat, *c.HomeLng)
	}
	if _, err := routing.ParsePolicy(c.RoutePolicy); err != nil {
		return fmt.Errorf("ROUTE_POLICY: %w", err)
	}
	if c.GeocoderRPS < 0 {
		return fmt.Errorf("GEOCODER_RPS must not be negative")
	}
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes in production")
	}
	return nil
}
