package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/mr-tron/base58"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/code-payments/counter-client/pkg/invoke"
	"github.com/code-payments/counter-client/pkg/keyfile"
	"github.com/code-payments/counter-client/pkg/metrics"
	"github.com/code-payments/counter-client/pkg/submit"
)

const metricsShutdownTimeout = 10 * time.Second

// rootFlags override the environment configuration when set.
type rootFlags struct {
	url       string
	keypair   string
	programID string
}

func (f *rootFlags) apply(cmd *cobra.Command, conf *invoke.Config) {
	if cmd.Flags().Changed("url") {
		conf.Endpoint = f.url
	}
	if cmd.Flags().Changed("keypair") {
		conf.CredentialPath = f.keypair
	}
	if cmd.Flags().Changed("program-id") {
		conf.ProgramIDPath = f.programID
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "counter-invoke",
		Short:         "Invoke the counter program",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.url, "url", "u", "", "JSON RPC endpoint (overrides RPC_URL)")
	root.PersistentFlags().StringVarP(&flags.keypair, "keypair", "k", "", "Fee payer keypair file (overrides CREDENTIAL_PATH)")
	root.PersistentFlags().StringVarP(&flags.programID, "program-id", "p", "", "File holding the program id (overrides PROGRAM_ID_PATH)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Create a counter, initialize it and increment it twice",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return invokePlan(cmd, flags, invoke.DefaultPlan())
			},
		},
		&cobra.Command{
			Use:   "add <amount>...",
			Short: "Create a counter, initialize it and add each amount",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				amounts, err := parseAmounts(args)
				if err != nil {
					return err
				}
				return invokePlan(cmd, flags, invoke.AddPlan(amounts...))
			},
		},
		&cobra.Command{
			Use:   "hello",
			Short: "Call the program without any accounts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return invokePlan(cmd, flags, invoke.HelloPlan())
			},
		},
	)

	return root
}

func parseAmounts(args []string) ([]uint64, error) {
	amounts := make([]uint64, len(args))
	for i, arg := range args {
		amount, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid amount %q: must be an unsigned 64-bit integer", arg)
		}
		amounts[i] = amount
	}
	return amounts, nil
}

func invokePlan(cmd *cobra.Command, flags *rootFlags, plan invoke.Plan) error {
	ctx := cmd.Context()

	config, err := loadConfig()
	if err != nil {
		return err
	}
	configureLogger(config)

	nr, err := newMetricsProvider(config)
	if err != nil {
		return err
	}
	if nr != nil {
		defer nr.Shutdown(metricsShutdownTimeout)

		nrTxn := nr.StartTransaction(cmd.CommandPath())
		defer nrTxn.End()

		ctx = newrelic.NewContext(ctx, nrTxn)
		ctx = metrics.WithApplication(ctx, nr)
	}

	conf, err := invoke.LoadConfig(ctx, invoke.WithEnvConfigs())
	if err != nil {
		return err
	}
	flags.apply(cmd, &conf)

	payer, err := keyfile.LoadKeypair(conf.CredentialPath)
	if err != nil {
		return errors.Wrap(err, "failed to load fee payer")
	}
	program, err := keyfile.LoadProgramID(conf.ProgramIDPath)
	if err != nil {
		return errors.Wrap(err, "failed to load program id")
	}

	result, err := invoke.New(conf).Run(ctx, payer, program, plan)
	printResult(cmd.OutOrStdout(), result)

	var rejected *submit.RejectedError
	if errors.As(err, &rejected) && len(rejected.Logs) > 0 {
		printLogs(cmd.OutOrStdout(), rejected.Logs)
	}
	return err
}

func printResult(w io.Writer, result *invoke.Result) {
	if result == nil {
		return
	}

	fmt.Fprintf(w, "Invocation: %s\n", result.Invocation)
	fmt.Fprintf(w, "Payer balance: %d lamports\n", result.Balance)
	if result.CounterAccount != nil {
		fmt.Fprintf(w, "Counter account: %s\n", base58.Encode(result.CounterAccount))
	}
	fmt.Fprintf(w, "Signature: %s\n", result.Signature)
	fmt.Fprintf(w, "Confirmed: %t\n", result.Confirmed)
	if result.Verified {
		fmt.Fprintf(w, "Counter: %d\n", result.Observed)
	}

	if result.LogsErr != nil {
		fmt.Fprintf(w, "Logs unavailable: %v\n", result.LogsErr)
	} else if len(result.Logs) > 0 {
		printLogs(w, result.Logs)
	}
}

func printLogs(w io.Writer, logs []string) {
	fmt.Fprintln(w, "Logs:")
	for _, l := range logs {
		fmt.Fprintf(w, "  %s\n", l)
	}
}
