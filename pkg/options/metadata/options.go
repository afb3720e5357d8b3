// Package metadata provides options for the document metadata database.
package metadata

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/knowledge-base/pkg/options"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var _ options.IOptions = (*Options)(nil)

// Options 元数据库配置。
type Options struct {
	// Driver sqlite | postgres | mysql
	Driver string `json:"driver" mapstructure:"driver"`
	// DSN 连接串，sqlite 为文件路径或 ":memory:"
	DSN string `json:"-" mapstructure:"dsn"`

	MaxOpenConns    int           `json:"max-open-conns" mapstructure:"max-open-conns"`
	MaxIdleConns    int           `json:"max-idle-conns" mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `json:"conn-max-lifetime" mapstructure:"conn-max-lifetime"`
	// SlowThreshold 慢查询日志阈值
	SlowThreshold time.Duration `json:"slow-threshold" mapstructure:"slow-threshold"`
	// AutoMigrate 启动时自动建表
	AutoMigrate bool `json:"auto-migrate" mapstructure:"auto-migrate"`
}

// NewOptions creates default metadata options backed by a local SQLite file.
func NewOptions() *Options {
	return &Options{
		Driver:          DriverSQLite,
		DSN:             "data/kb.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		SlowThreshold:   200 * time.Millisecond,
		AutoMigrate:     true,
	}
}

// AddFlags adds flags for metadata options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "metadata."
	fs.StringVar(&o.Driver, p+"driver", o.Driver, "Metadata database driver (sqlite|postgres|mysql).")
	fs.StringVar(&o.DSN, p+"dsn", o.DSN, "Metadata database DSN; a file path for sqlite.")
	fs.IntVar(&o.MaxOpenConns, p+"max-open-conns", o.MaxOpenConns, "Maximum open connections.")
	fs.IntVar(&o.MaxIdleConns, p+"max-idle-conns", o.MaxIdleConns, "Maximum idle connections.")
	fs.DurationVar(&o.ConnMaxLifetime, p+"conn-max-lifetime", o.ConnMaxLifetime, "Maximum connection lifetime.")
	fs.DurationVar(&o.SlowThreshold, p+"slow-threshold", o.SlowThreshold, "Queries slower than this are logged.")
	fs.BoolVar(&o.AutoMigrate, p+"auto-migrate", o.AutoMigrate, "Create or update tables at start.")
}

// Validate validates the metadata options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		errs = append(errs, fmt.Errorf("metadata.driver must be one of sqlite, postgres, mysql, got %q", o.Driver))
	}
	if o.DSN == "" {
		errs = append(errs, fmt.Errorf("metadata.dsn cannot be empty"))
	}
	if o.MaxOpenConns <= 0 {
		errs = append(errs, fmt.Errorf("metadata.max-open-conns must be positive"))
	}
	return errs
}

var dsnMasks = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(://[^:/@]+):[^@]*@`), "${1}:***@"},
	{regexp.MustCompile(`(password=)\S+`), "${1}***"},
	{regexp.MustCompile(`^([^:@/]+):[^@]*@tcp`), "${1}:***@tcp"},
}

// MaskedDSN returns the DSN with any password replaced by ***.
func (o *Options) MaskedDSN() string {
	dsn := o.DSN
	for _, m := range dsnMasks {
		dsn = m.re.ReplaceAllString(dsn, m.repl)
	}
	return dsn
}

// String returns the driver and masked DSN.
func (o *Options) String() string {
	return fmt.Sprintf("Metadata{driver=%s, dsn=%s}", o.Driver, o.MaskedDSN())
}
