package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath         string `envconfig:"DATA_PATH" default:"/var/lib/realityd"`
	DatabasePath     string `envconfig:"DATABASE_PATH" default:"/var/lib/realityd/realityd.db"`
	EngineConfigPath string `envconfig:"ENGINE_CONFIG_PATH" default:"/usr/local/etc/xray/config.json"`
	EngineBinary     string `envconfig:"ENGINE_BINARY" default:"xray"`
	ArtifactDir      string `envconfig:"ARTIFACT_DIR" default:"/var/lib/realityd/clients"`
	BackupDir        string `envconfig:"BACKUP_DIR" default:"/var/lib/realityd/backups"`
	ListenAddr       string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8844"`

	// PublicHost is the address subscribers connect to; it goes into every
	// generated connection URI.
	PublicHost string `envconfig:"PUBLIC_HOST" default:""`

	ServiceName     string `envconfig:"SERVICE_NAME" default:"xray"`
	DockerContainer string `envconfig:"DOCKER_CONTAINER" default:""`
	DockerHost      string `envconfig:"DOCKER_HOST" default:""`

	ShortIDLength     int    `envconfig:"SHORT_ID_LENGTH" default:"16"`
	KeygenTimeout     string `envconfig:"KEYGEN_TIMEOUT" default:"10s"`
	ProbeTimeout      string `envconfig:"PROBE_TIMEOUT" default:"5s"`
	VerifyGracePeriod string `envconfig:"VERIFY_GRACE_PERIOD" default:"20s"`
	PropagateWorkers  int    `envconfig:"PROPAGATE_WORKERS" default:"4"`

	// RotationSchedule is a cron spec; empty disables scheduled rotation checks.
	RotationSchedule string `envconfig:"ROTATION_SCHEDULE" default:"0 4 * * *"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("REALITYD", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// Duration parses one of the duration-typed settings, falling back to def
// when the value is malformed.
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
