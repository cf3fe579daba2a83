package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sharpefolio/internal/config"
)

func writePrices(t *testing.T, dir string, assets ...string) {
	t.Helper()
	for a, asset := range assets {
		var sb strings.Builder
		sb.WriteString("Date,Close\n")
		for i := range 30 {
			date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
			price := 100 + float64(a*10) + float64(i%7)*float64(a+1) + float64(i)/2
			fmt.Fprintf(&sb, "%s,%.2f\n", date.Format(time.DateOnly), price)
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, asset+".csv"), []byte(sb.String()), 0o600))
	}
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Optimizer: config.OptimizerConfig{
			PopulationSize: 12,
			MatingPoolSize: 4,
			Generations:    3,
			MutationRate:   0.1,
			Parallelism:    2,
			Seed:           9,
		},
		Data: config.DataConfig{
			Source:       config.SourceCSV,
			Assets:       []string{"AAA", "BBB"},
			CSVDir:       dir,
			CSVExtension: ".csv",
		},
		Metric:  config.MetricConfig{PeriodsPerYear: 252, Returns: "diff"},
		Results: config.ResultsConfig{Store: config.StoreNone},
	}
}

func TestBuild_CSVWithoutExtras(t *testing.T) {
	dir := t.TempDir()
	writePrices(t, dir, "AAA", "BBB")

	svc, res, err := Build(context.Background(), testConfig(dir))
	require.NoError(t, err)
	defer res.Close()

	assert.Equal(t, "csv", svc.DefaultSource())
	assert.Nil(t, res.Runs)
	assert.Nil(t, res.Redis)
	assert.Nil(t, res.Publisher)

	outcome, err := svc.Run(context.Background(), Request{
		Assets: []string{"AAA", "BBB"},
		Config: testConfig(dir).Optimizer.GeneticConfig(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 30, outcome.Report.Rows)
}

func TestBuild_FullStack(t *testing.T) {
	dir := t.TempDir()
	writePrices(t, dir, "AAA", "BBB")

	mr := miniredis.RunT(t)

	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	defer ns.Shutdown()

	cfg := testConfig(dir)
	cfg.Redis = config.RedisConfig{Enabled: true, Host: mr.Host(), Port: atoi(t, mr.Port()), CacheTTL: 60}
	cfg.NATS = config.NATSConfig{Enabled: true, URL: ns.ClientURL(), Prefix: "test."}
	cfg.Results = config.ResultsConfig{Store: config.StoreSQLite, SQLitePath: ":memory:"}

	svc, res, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer res.Close()

	require.NotNil(t, res.Redis)
	require.NotNil(t, res.Publisher)
	require.NotNil(t, res.Local)

	outcome, err := svc.Run(context.Background(), Request{
		Assets: []string{"AAA", "BBB"},
		Config: cfg.Optimizer.GeneticConfig(2),
	})
	require.NoError(t, err)

	stored, err := res.Runs.GetRun(context.Background(), outcome.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome.Run.BestWeighting, stored.BestWeighting)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "sharpefolio:history:csv:AAA,BBB"))
}

func TestBuild_UnavailableRedisAndNATS(t *testing.T) {
	dir := t.TempDir()
	writePrices(t, dir, "AAA")

	cfg := testConfig(dir)
	cfg.Redis = config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}
	cfg.NATS = config.NATSConfig{Enabled: true, URL: "nats://127.0.0.1:1"}

	_, res, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer res.Close()

	assert.Nil(t, res.Redis)
	assert.Nil(t, res.Publisher)
}

func TestBuild_UnavailableTelegram(t *testing.T) {
	dir := t.TempDir()
	writePrices(t, dir, "AAA")

	cfg := testConfig(dir)
	cfg.Alerts = config.AlertsConfig{
		MinSeverity: "critical",
		Telegram: config.TelegramAlertsConfig{
			Enabled:     true,
			BotToken:    "123:abc",
			ChatIDs:     []int64{42},
			APIEndpoint: "http://127.0.0.1:1/bot%s/%s",
		},
	}

	_, res, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer res.Close()
	assert.NotNil(t, res.Alerts, "alerts fall back to the log")
}

func TestBuild_Errors(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Data.Source = "ftp"
	_, _, err := Build(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig(t.TempDir())
	cfg.Metric.Returns = "log"
	_, _, err = Build(context.Background(), cfg)
	assert.Error(t, err)
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	require.NoError(t, err)
	return n
}
