// Package cli wires the release decision engine into a cobra command tree.
//
// Errors surface as structured problems: commands return *problem.Problem
// and Execute maps the category to the process exit code (config 10,
// policy 20, runtime 30, dependency 40, internal 50).
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/releasegate/releasegate/internal/audit"
	"github.com/releasegate/releasegate/internal/config"
	"github.com/releasegate/releasegate/internal/problem"
	"github.com/releasegate/releasegate/internal/store"
)

var (
	flagPolicy   string
	flagDB       string
	flagAuditLog string
)

var rootCmd = &cobra.Command{
	Use:   "releasegate",
	Short: "Privacy release decisions for derived features",
	Long: "Scores features for linkability and inference risk, picks the least-private\n" +
		"boundary and finest granularity the policy admits, issues runtime contracts,\n" +
		"and enforces them at materialization time. Fail closed: no scorable decision\n" +
		"means no release.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagPolicy, "policy", "", "path to policy YAML (empty = built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "releasegate.db", "path to the sqlite state database")
	rootCmd.PersistentFlags().StringVar(&flagAuditLog, "audit-log", "audit.jsonl", "path to the hash-chained audit log")
}

// Execute runs the root command and exits with the problem taxonomy code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var p *problem.Problem
		if !errors.As(err, &p) {
			p = problem.From(err)
		}
		fmt.Fprintln(os.Stderr, p.JSON())
		os.Exit(problem.ExitCode(p.Category))
	}
}

// appEnv bundles the shared state most commands need.
type appEnv struct {
	Config     *config.Config
	PolicyHash string
	Store      *store.Store
	Log        *audit.Log
}

func (e *appEnv) Close() {
	if e.Log != nil {
		e.Log.Close()
	}
	if e.Store != nil {
		e.Store.Close()
	}
}

// openEnv loads policy, opens the database and the audit log. Policy
// failures are config problems; store and log failures are dependency
// problems.
func openEnv() (*appEnv, error) {
	cfg, hash, err := config.LoadWithHash(flagPolicy)
	if err != nil {
		return nil, problem.New("POLICY_LOAD_FAILED", problem.CategoryConfig, err.Error()).
			WithRemediation("fix the policy file or omit --policy to use defaults")
	}
	st, err := store.Open(flagDB)
	if err != nil {
		return nil, problem.New("STORE_OPEN_FAILED", problem.CategoryDependency, err.Error())
	}
	log, err := audit.Open(flagAuditLog)
	if err != nil {
		st.Close()
		return nil, problem.New("AUDIT_OPEN_FAILED", problem.CategoryDependency, err.Error())
	}
	return &appEnv{Config: cfg, PolicyHash: hash, Store: st, Log: log}, nil
}

func configProblem(code string, err error) *problem.Problem {
	return problem.New(code, problem.CategoryConfig, err.Error())
}

func runtimeProblem(code string, err error) *problem.Problem {
	return problem.New(code, problem.CategoryRuntime, err.Error())
}
