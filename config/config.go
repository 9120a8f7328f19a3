package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const keyEnv = "ENV"
const envLocal = "local"

const (
	BackendElasticsearch = "elasticsearch"
	BackendBleve         = "bleve"
)

const (
	defaultPort              = "9090"
	defaultIndex             = "preprints-biorxiv"
	defaultReturnField       = "id"
	defaultScrollSize        = 1000
	defaultElasticMaxRetries = 3
	defaultScrollKeepAlive   = time.Minute
	defaultRequestTimeout    = 30 * time.Second
	defaultReportIndex       = "tblstudyreport"
	defaultStudyIndex        = "tblstudy"
	defaultReportIDField     = "CRGReportID"
	defaultStudyIDField      = "CRGStudyID"
)

type Config struct {
	config *viper.Viper
}

func Load() (*Config, error) {

	env := os.Getenv(keyEnv)
	if len(env) == 0 {
		env = envLocal
	}

	configPath, err := getConfigPath(env)

	viperConfig := viper.New()
	if err == nil {
		viperConfig.SetConfigFile(configPath)
		if err := viperConfig.ReadInConfig(); err != nil {
			slog.Warn(fmt.Sprintf("error reading config file, %s", err))
		}
	}
	viperConfig.AutomaticEnv()

	cfg := &Config{
		config: viperConfig,
	}

	return cfg, nil
}

func (c *Config) GetPort() string {
	return c.getString("PORT", "server.port", defaultPort)
}

func (c *Config) GetLogLevel() string {
	return c.getString("LOG_LEVEL", "log.level", "info")
}

// GetBackend names the search engine adapter, elasticsearch unless bleve is asked for.
func (c *Config) GetBackend() string {
	backend := strings.ToLower(c.getString("SEARCH_BACKEND", "search.backend", BackendElasticsearch))
	if backend != BackendBleve {
		return BackendElasticsearch
	}
	return backend
}

func (c *Config) GetElasticHosts() []string {
	if hosts := c.config.GetString("ESKNN_HOST"); len(hosts) > 0 {
		return splitList(hosts)
	}
	if hosts := c.config.GetStringSlice("elastic.hosts"); len(hosts) > 0 {
		return hosts
	}

	return []string{"http://localhost:9200"}
}

func (c *Config) GetElasticUsername() string {
	return c.getString("ELASTIC_USERNAME", "elastic.username", "")
}

func (c *Config) GetElasticPassword() string {
	return c.getString("ELASTIC_PASSWORD", "elastic.password", "")
}

// GetElasticMaxRetries returns 0 when retries are turned off.
func (c *Config) GetElasticMaxRetries() int {
	return max(0, c.getInt("ELASTIC_MAX_RETRIES", "elastic.max_retries", defaultElasticMaxRetries))
}

func (c *Config) GetDefaultIndex() string {
	return c.getString("INDEX_NAME", "search.default_index", defaultIndex)
}

func (c *Config) GetReturnField() string {
	return c.getString("RET_FIELD", "search.return_field", defaultReturnField)
}

func (c *Config) GetScrollSize() int {
	if size := c.getInt("SCROLL_SIZE", "search.scroll_size", defaultScrollSize); size > 0 {
		return size
	}
	return defaultScrollSize
}

func (c *Config) GetScrollKeepAlive() time.Duration {
	if keepAlive := c.getDuration("SCROLL_KEEP_ALIVE", "search.scroll_keep_alive", defaultScrollKeepAlive); keepAlive > 0 {
		return keepAlive
	}
	return defaultScrollKeepAlive
}

// GetRequestTimeout returns 0 when searches should run without a deadline.
func (c *Config) GetRequestTimeout() time.Duration {
	return c.getDuration("REQUEST_TIMEOUT", "search.request_timeout", defaultRequestTimeout)
}

func (c *Config) GetReportIndex() string {
	return c.getString("REPORT_INDEX", "studies.report_index", defaultReportIndex)
}

func (c *Config) GetStudyIndex() string {
	return c.getString("STUDY_INDEX", "studies.study_index", defaultStudyIndex)
}

func (c *Config) GetReportIDField() string {
	return c.getString("REPORT_ID_FIELD", "studies.report_id_field", defaultReportIDField)
}

func (c *Config) GetStudyIDField() string {
	return c.getString("STUDY_ID_FIELD", "studies.study_id_field", defaultStudyIDField)
}

func (c *Config) GetKVDBPath() string {
	return c.getString("KVDB_PATH", "database.kvdb_path", filepath.Join(".esgateway", "settings.db"))
}

// GetIndexPath is the directory holding one bleve index per index name.
func (c *Config) GetIndexPath() string {
	return c.getString("INDEX_PATH", "database.index_path", filepath.Join(".esgateway", "indices"))
}

// GetRateLimit returns requests per second and burst. A zero rate disables limiting.
func (c *Config) GetRateLimit() (float64, int) {
	rps := c.config.GetFloat64("RATE_LIMIT_RPS")
	if rps == 0 {
		rps = c.config.GetFloat64("rate_limit.rps")
	}
	burst := c.getInt("RATE_LIMIT_BURST", "rate_limit.burst", 0)
	if burst <= 0 {
		burst = max(1, int(rps))
	}

	return rps, burst
}

func (c *Config) getString(envKey string, fileKey string, fallback string) string {
	value := c.config.GetString(envKey)
	if len(value) == 0 {
		value = c.config.GetString(fileKey)
	}
	if len(value) == 0 {
		value = fallback
	}

	return value
}

// getInt and getDuration return the first of envKey and fileKey that is set,
// so an explicit zero is kept.
func (c *Config) getInt(envKey string, fileKey string, fallback int) int {
	switch {
	case c.config.IsSet(envKey):
		return c.config.GetInt(envKey)
	case c.config.IsSet(fileKey):
		return c.config.GetInt(fileKey)
	}
	return fallback
}

func (c *Config) getDuration(envKey string, fileKey string, fallback time.Duration) time.Duration {
	switch {
	case c.config.IsSet(envKey):
		return c.config.GetDuration(envKey)
	case c.config.IsSet(fileKey):
		return c.config.GetDuration(fileKey)
	}
	return fallback
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); len(item) > 0 {
			items = append(items, item)
		}
	}

	return items
}

func getProjectRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	for {
		configDir := filepath.Join(currentDir, "config")
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			return currentDir, nil
		}

		parent := filepath.Dir(currentDir)

		if parent == currentDir {
			break
		}

		currentDir = parent
	}

	return "", fmt.Errorf("could not find project root (directory containing 'config' folder)")
}

func getConfigPath(env string) (string, error) {
	configFile := fmt.Sprintf("config.%s.yaml", env)

	projectRoot, err := getProjectRoot()
	if err != nil {
		slog.Warn("failed to find project root with config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	configPath := filepath.Join(projectRoot, "config", configFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		slog.Warn("failed to find config file within config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("config file does not exist: %s", configPath)
	}

	return configPath, nil
}
