package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kidscreen/internal/cache"
	"kidscreen/internal/credentials"
	"kidscreen/internal/grade"
	"kidscreen/internal/handler"
	appI18n "kidscreen/internal/i18n"
	"kidscreen/internal/source"
	"kidscreen/internal/store"
	"kidscreen/internal/taskdef"
)

// schemaVersion stamps computed cache entries. Bump whenever the validation
// computation changes shape so stale caches are rejected instead of served.
const schemaVersion = "v3"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kidscreen",
		Short: "Dual-source assessment reconciliation and completion validation",
	}

	serve := serveCmd()
	root.AddCommand(serve, buildCmd(), refreshCmd(), statusCmd(), purgeCmd(), exportCmd(), credsInitCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "kidscreen.db", "SQLite cache database path")
	f.String("defs", "definitions.yaml", "Task and set definitions file")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func sourceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("creds", "kidscreen.creds", "Encrypted credential bundle path")
	f.String("form-url", "https://api.jotform.com", "Form API base URL")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reporting HTTP server",
		RunE:  runServe,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default response language (en, zh-Hant)")
	f.Int("start-year", 2023, "School year the K1 cohort started in")
	return cmd
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Fetch both sources and rebuild the validation cache",
		RunE:  runBuild,
	}
	commonFlags(cmd)
	sourceFlags(cmd)
	cmd.Flags().Int("start-year", 2023, "School year the K1 cohort started in")
	return cmd
}

func refreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refetch only the web-survey source and recompute",
		RunE:  runRefresh,
	}
	commonFlags(cmd)
	sourceFlags(cmd)
	cmd.Flags().Int("start-year", 2023, "School year the K1 cohort started in")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache provenance and integrity",
		RunE:  runStatus,
	}
	commonFlags(cmd)
	cmd.Flags().Int("start-year", 2023, "School year the K1 cohort started in")
	return cmd
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop all three cache stores",
		RunE:  runPurge,
	}
	commonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export cached validation results as CSV",
		RunE:  runExport,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.Int("start-year", 2023, "School year the K1 cohort started in")
	return cmd
}

func credsInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds-init",
		Short: "Write the encrypted upstream credential bundle",
		RunE:  runCredsInit,
	}
	f := cmd.Flags()
	f.String("creds", "kidscreen.creds", "Encrypted credential bundle path")
	f.String("form-api-key", "", "Form API key")
	f.String("form-id", "", "Form identifier")
	f.String("survey-api-token", "", "Survey API token")
	f.String("survey-id", "", "Survey identifier")
	f.String("survey-url", "", "Survey API base URL")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("KIDSCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("kidscreen")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/kidscreen")
	v.AddConfigPath("/etc/kidscreen")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openService(v *viper.Viper) (*cache.Service, *store.Store, error) {
	defs, err := taskdef.Load(v.GetString("defs"))
	if err != nil {
		return nil, nil, fmt.Errorf("load definitions: %w", err)
	}
	st, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open cache database: %w", err)
	}
	classifier := grade.Classifier{StartYear: v.GetInt("start-year")}
	return cache.New(st, defs, classifier, schemaVersion), st, nil
}

// openSources loads the credential bundle and wires the two upstream clients.
// The passphrase comes from KIDSCREEN_PASSPHRASE only, never from a flag.
func openSources(v *viper.Viper) (*source.FormClient, *source.SurveyClient, error) {
	passphrase := os.Getenv("KIDSCREEN_PASSPHRASE")
	if passphrase == "" {
		return nil, nil, fmt.Errorf("KIDSCREEN_PASSPHRASE is not set")
	}
	bundle, err := credentials.Load(v.GetString("creds"), passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("load credential bundle: %w", err)
	}
	defs, err := taskdef.Load(v.GetString("defs"))
	if err != nil {
		return nil, nil, fmt.Errorf("load definitions: %w", err)
	}

	form := &source.FormClient{
		BaseURL:  v.GetString("form-url"),
		APIKey:   bundle.FormAPIKey,
		FormID:   bundle.FormID,
		FieldMap: defs.FieldMap,
	}
	survey := &source.SurveyClient{
		BaseURL:  bundle.SurveyBaseURL,
		APIToken: bundle.SurveyAPIToken,
		SurveyID: bundle.SurveyID,
		FieldMap: defs.FieldMap,
	}
	return form, survey, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	svc, st, err := openService(v)
	if err != nil {
		return err
	}
	defer st.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	h := handler.New(svc)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"defs", v.GetString("defs"),
		"lang", lang,
		"start_year", v.GetInt("start-year"),
	)
	return http.ListenAndServe(addr, r)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	svc, st, err := openService(v)
	if err != nil {
		return err
	}
	defer st.Close()

	form, survey, err := openSources(v)
	if err != nil {
		return err
	}

	report, err := svc.BuildAll(context.Background(), form, survey)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	return printJSON(os.Stdout, report)
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	svc, st, err := openService(v)
	if err != nil {
		return err
	}
	defer st.Close()

	_, survey, err := openSources(v)
	if err != nil {
		return err
	}

	report, err := svc.RefreshSecondary(context.Background(), survey)
	if err != nil {
		return fmt.Errorf("refresh cache: %w", err)
	}
	return printJSON(os.Stdout, report)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	svc, st, err := openService(v)
	if err != nil {
		return err
	}
	defer st.Close()

	type status struct {
		Built    bool      `json:"built"`
		Stale    bool      `json:"stale"`
		Healthy  bool      `json:"healthy"`
		BuildID  string    `json:"build_id,omitempty"`
		BuiltAt  time.Time `json:"built_at,omitzero"`
		Students int       `json:"students"`
		Problem  string    `json:"problem,omitempty"`
	}

	snap, err := svc.LoadStale()
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return printJSON(os.Stdout, status{})
	case err != nil:
		return printJSON(os.Stdout, status{Built: true, Problem: err.Error()})
	}
	return printJSON(os.Stdout, status{
		Built:    true,
		Stale:    snap.Stale,
		Healthy:  !snap.Stale,
		BuildID:  snap.BuildID,
		BuiltAt:  snap.BuiltAt,
		Students: len(snap.Entries),
	})
}

func runPurge(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	svc, st, err := openService(v)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := svc.PurgeAll(); err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	fmt.Println("cache purged")
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	svc, st, err := openService(v)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := svc.LoadStale()
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}
	if snap.Stale {
		slog.Warn("exporting stale cache", "built_at", snap.BuiltAt)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeCSV(w, snap)
}

func writeCSV(w io.Writer, snap cache.Snapshot) error {
	cw := csv.NewWriter(w)
	header := []string{
		"student_id", "grade", "district", "group", "school", "class",
		"status", "completion_pct", "terminations", "conflicts", "post_termination_data",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	keys := make([]string, 0, len(snap.Entries))
	for k := range snap.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := snap.Entries[k]
		row := []string{
			e.StudentID,
			string(e.Grade),
			e.Demographics.District,
			e.Demographics.Group,
			e.Demographics.School,
			e.Demographics.Class,
			string(e.OverallStatus()),
			fmt.Sprint(e.CompletionPct),
			fmt.Sprint(e.TerminationCount),
			fmt.Sprint(e.ConflictCount),
			fmt.Sprint(e.HasPostTerminationData),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row for %s: %w", k, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func runCredsInit(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	passphrase := os.Getenv("KIDSCREEN_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("KIDSCREEN_PASSPHRASE is not set")
	}

	bundle := credentials.Bundle{
		FormAPIKey:     v.GetString("form-api-key"),
		FormID:         v.GetString("form-id"),
		SurveyAPIToken: v.GetString("survey-api-token"),
		SurveyID:       v.GetString("survey-id"),
		SurveyBaseURL:  v.GetString("survey-url"),
	}
	if bundle.FormAPIKey == "" || bundle.SurveyAPIToken == "" {
		return fmt.Errorf("both --form-api-key and --survey-api-token are required")
	}

	path := v.GetString("creds")
	if err := credentials.Save(path, bundle, passphrase); err != nil {
		return fmt.Errorf("save credential bundle: %w", err)
	}
	fmt.Printf("credential bundle written to %s\n", path)
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
