// File: cmd/cmd_test.go
package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/config"
	"github.com/xkilldash9x/erpfill/internal/results"
	"github.com/xkilldash9x/erpfill/internal/selectors"
	"github.com/xkilldash9x/erpfill/internal/store"
)

const inputCSV = `UserName,Password,TransactionType,PaymentAmount
alice,pw1,Payment,100
bob,,Payment,200
carol,pw3,Payment,300
`

func TestRootCmd_VersionFlag(t *testing.T) {
	out, _, err := executeCommand(t, newMockSessions(), unusedStores, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "erpfill version "+Version)
}

func TestVersionCmd(t *testing.T) {
	out, _, err := executeCommand(t, newMockSessions(), unusedStores, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "erpfill "+Version), out)
}

func TestRunCmd(t *testing.T) {
	t.Run("processes every row and writes the results file", func(t *testing.T) {
		dir := t.TempDir()
		input := writeFile(t, "input.csv", inputCSV)
		sessions := newMockSessions()

		out, _, err := executeCommand(t, sessions, unusedStores, "run", input,
			"--login-url", testLoginURL,
			"--form", "transaction_payment",
			"--output-dir", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "3 row(s), 2 succeeded, 1 failed")

		lines, err := results.ReadCSV(filepath.Join(dir, "results.csv"))
		require.NoError(t, err)
		require.Len(t, lines, 3)
		assert.Equal(t, []string{"alice", "bob", "carol"}, []string{lines[0].Username, lines[1].Username, lines[2].Username})
		assert.True(t, lines[0].Success)
		assert.False(t, lines[1].Success)
		assert.Contains(t, lines[1].Message, "Password")
		assert.True(t, lines[2].Success)
		logs, err := filepath.Glob(filepath.Join(dir, "logs", "run-*.log"))
		require.NoError(t, err)
		assert.Len(t, logs, 1)
		sessions.page.AssertCalled(t, "SaveState", mock.Anything, filepath.Join(dir, "state", "alice.json"))
	})

	t.Run("dry run never clicks save", func(t *testing.T) {
		dir := t.TempDir()
		input := writeFile(t, "input.csv", inputCSV)
		sessions := newMockSessions()

		_, _, err := executeCommand(t, sessions, unusedStores, "run", input,
			"--login-url", testLoginURL,
			"--form", "transaction_payment",
			"--dry-run",
			"--output-dir", dir)
		require.NoError(t, err)
		sessions.page.AssertNotCalled(t, "Click", mock.Anything, "#btnSave")
	})

	t.Run("missing input fails before the browser starts", func(t *testing.T) {
		sessions := newMockSessions()
		_, _, err := executeCommand(t, sessions, unusedStores, "run", filepath.Join(t.TempDir(), "nope.xlsx"),
			"--output-dir", t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input file")
		assert.Zero(t, sessions.opened)
	})

	t.Run("store failures abort the run", func(t *testing.T) {
		input := writeFile(t, "input.csv", inputCSV)
		sessions := newMockSessions()
		_, _, err := executeCommand(t, sessions, unusedStores, "run", input,
			"--login-url", testLoginURL,
			"--output-dir", t.TempDir(),
			"--database-url", "postgres://localhost/erp")
		assert.ErrorContains(t, err, "failed to initialize store")
		assert.Zero(t, sessions.opened)
	})

	t.Run("browser failures are reported", func(t *testing.T) {
		input := writeFile(t, "input.csv", inputCSV)
		sessions := &mockSessionFactory{err: errors.New("chrome not found")}
		_, _, err := executeCommand(t, sessions, unusedStores, "run", input, "--output-dir", t.TempDir())
		assert.ErrorContains(t, err, "failed to start browser: chrome not found")
	})
}

func TestReportCmd(t *testing.T) {
	t.Run("renders the results CSV as json lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "results.csv")
		w, err := results.OpenCSV(path)
		require.NoError(t, err)
		now := time.Now()
		require.NoError(t, w.Record(context.Background(), results.RowResult{Username: "alice", Success: true, StartedAt: now, FinishedAt: now}))
		require.NoError(t, w.Record(context.Background(), results.RowResult{Username: "bob", Exception: "login failed", StartedAt: now, FinishedAt: now}))
		require.NoError(t, w.Close())

		out, _, err := executeCommand(t, newMockSessions(), unusedStores, "report", "--from", path, "-f", "json")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"alice"`)
		assert.Contains(t, lines[1], "login failed")
	})

	t.Run("reads recent rows from the database", func(t *testing.T) {
		pool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer pool.Close()

		now := time.Now().UTC()
		pool.ExpectPing()
		pool.ExpectQuery("FROM row_results").WithArgs(5).WillReturnRows(
			pgxmock.NewRows([]string{"run_id", "row_number", "username", "success", "exception", "filled", "field_errors", "skipped",
				"screenshot", "state_file", "target_url", "attempts", "started_at", "finished_at"}).
				AddRow("run-1", 2, "dora", true, "", []string{"A"}, []string{}, []string{}, "", "", "", 1, now, now))

		stores := funcStoreProvider(func(ctx context.Context, url string, logger *zap.Logger) (*store.Store, func(), error) {
			assert.Equal(t, "postgres://localhost/erp", url)
			st, err := store.New(ctx, pool, logger)
			return st, nil, err
		})
		out, _, err := executeCommand(t, newMockSessions(), stores, "report", "--db", "--limit", "5",
			"--database-url", "postgres://localhost/erp", "-f", "markdown")
		require.NoError(t, err)
		assert.Contains(t, out, "dora")
		assert.Contains(t, out, "|")
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("database reports need a url", func(t *testing.T) {
		_, _, err := executeCommand(t, newMockSessions(), unusedStores, "report", "--db")
		assert.ErrorContains(t, err, "database URL is not configured")
	})
}

func TestSelectorsCmd(t *testing.T) {
	t.Run("lists the built-in forms", func(t *testing.T) {
		out, _, err := executeCommand(t, newMockSessions(), unusedStores, "selectors", "--forms")
		require.NoError(t, err)
		assert.Contains(t, out, "loan_disbursement")
		assert.Contains(t, out, "transaction_payment")
	})

	t.Run("merges an override file", func(t *testing.T) {
		override := writeFile(t, "selectors.json5", `{
			// extra form for the cash desk
			forms: { cash_receipt: { fields: { ReferenceNo: "#txtRef" }, submit: "#btnPost" } },
		}`)
		out, _, err := executeCommand(t, newMockSessions(), unusedStores, "selectors", "--selectors", override)
		require.NoError(t, err)
		assert.Contains(t, out, "cash_receipt")
		assert.Contains(t, out, "#txtRef")
		assert.Contains(t, out, "#txtUserName")
	})
}

func TestLoadRegistry(t *testing.T) {
	t.Run("no override is the validated defaults", func(t *testing.T) {
		reg, err := loadRegistry("")
		require.NoError(t, err)
		def, err := selectors.Default()
		require.NoError(t, err)
		assert.Equal(t, def, reg)
	})

	t.Run("override is applied once over the defaults", func(t *testing.T) {
		path := writeFile(t, "sel.yaml", "login:\n  submit: \"#go\"\n  success:\n    url_changed: true\n")
		reg, err := loadRegistry(path)
		require.NoError(t, err)
		want, err := selectors.Load(path)
		require.NoError(t, err)
		assert.Equal(t, want, reg)
		assert.Equal(t, selectors.Candidates{"#go"}, reg.Login.Submit)
		assert.True(t, reg.Login.Success.URLChangeCounts())
	})

	t.Run("invalid result is rejected", func(t *testing.T) {
		path := writeFile(t, "sel.yaml", "forms:\n  empty_form:\n    url: https://erp.example.test/x\n")
		_, err := loadRegistry(path)
		assert.ErrorContains(t, err, "form empty_form: no fields mapped")
	})
}

func TestConfigPrecedence(t *testing.T) {
	t.Setenv("ERPFILL_RUN_MAX_ROWS", "7")
	t.Setenv("LOGIN_URL", "https://legacy.example.test/login")

	var got *config.Config
	root := newRootCmd(newMockSessions(), unusedStores)
	inspect := &cobra.Command{
		Use: "inspect-config",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			got, err = getConfigFromContext(cmd.Context())
			return err
		},
	}
	inspect.Flags().Int("max-rows", 0, "")
	annotate(inspect.Flags(), "max-rows", "run.max_rows")
	inspect.Flags().Bool("dry-run", false, "")
	annotate(inspect.Flags(), "dry-run", "run.dry_run")
	root.AddCommand(inspect)

	run := func(args ...string) {
		t.Helper()
		got = nil
		root.SetArgs(append(args, "--env-file", "", "--config", writeFile(t, "config.yaml", "run:\n  max_rows: 3\n  dry_run: true\nlogger:\n  log_file: \"\"\n")))
		require.NoError(t, root.ExecuteContext(context.Background()))
		require.NotNil(t, got)
	}

	run("inspect-config")
	assert.Equal(t, 7, got.Run.MaxRows, "environment beats the config file")
	assert.True(t, got.Run.DryRun, "config file beats defaults")
	assert.Equal(t, "https://legacy.example.test/login", got.Run.LoginURL)

	run("inspect-config", "--max-rows", "2")
	assert.Equal(t, 2, got.Run.MaxRows, "flags beat the environment")
}

func TestDotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "ERPFILL_RUN_FORM=loan_disbursement\n")
	t.Setenv("ERPFILL_RUN_FORM", "")
	require.NoError(t, os.Unsetenv("ERPFILL_RUN_FORM"))
	require.NoError(t, loadDotEnv(envFile))
	assert.Equal(t, "loan_disbursement", os.Getenv("ERPFILL_RUN_FORM"))

	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, loadDotEnv(""))
}

func TestFollow(t *testing.T) {
	path := writeFile(t, "run-20260101-000000.log", "first line\nsecond line\n")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out strings.Builder
	require.NoError(t, follow(ctx, path, true, &out))
	assert.Equal(t, "first line\nsecond line\n", out.String())

	assert.Error(t, follow(ctx, filepath.Join(t.TempDir(), "missing.log"), true, &out))
}
