package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/server"
)

var (
	remoteAddr   string
	remoteAPIKey string
	follow       bool
	formatName   string
	outputPath   string
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running invoiced over gRPC",
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&remoteAddr, "addr", "localhost:9090", "invoiced gRPC address")
	remoteCmd.PersistentFlags().StringVar(&remoteAPIKey, "api-key", os.Getenv("X_API_KEY"), "API key sent as x-api-key")

	remoteStatusCmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream status changes until the task is terminal")
	remoteDownloadCmd.Flags().StringVar(&formatName, "format", "csv", "export format (csv, excel)")
	remoteDownloadCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default <task-id>_invoices.<ext>)")

	remoteCmd.AddCommand(remoteSubmitCmd, remoteStatusCmd, remoteDownloadCmd, remoteReportCmd, remoteCancelCmd)
}

func dial() (*server.InvoiceClient, func(), error) {
	conn, err := grpc.NewClient(remoteAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return server.NewInvoiceClient(conn, remoteAPIKey), func() { _ = conn.Close() }, nil
}

var remoteSubmitCmd = &cobra.Command{
	Use:   "submit <file>...",
	Short: "Upload documents as one task and print its id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]entity.SourceFile, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			files = append(files, entity.SourceFile{Name: filepath.Base(path), Data: data})
		}
		client, done, err := dial()
		if err != nil {
			return err
		}
		defer done()
		id, err := client.Submit(cmd.Context(), files)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var remoteStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Print the status of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := dial()
		if err != nil {
			return err
		}
		defer done()
		out := cmd.OutOrStdout()
		show := func(v entity.StatusView) {
			fmt.Fprintf(out, "%s\t%s\t%d%%\t%s\n", v.TaskID, v.Status, v.Progress, v.Message)
		}
		if follow {
			return client.WatchStatus(cmd.Context(), args[0], show)
		}
		v, err := client.GetStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		show(v)
		return nil
	},
}

var remoteDownloadCmd = &cobra.Command{
	Use:   "download <task-id>",
	Short: "Download the export of a completed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, ok := constants.ParseExportFormat(formatName)
		if !ok {
			return fmt.Errorf("unknown format %q", formatName)
		}
		client, done, err := dial()
		if err != nil {
			return err
		}
		defer done()
		data, err := client.GetResult(cmd.Context(), args[0], format)
		if err != nil {
			return err
		}
		path := outputPath
		if path == "" {
			path = args[0] + "_invoices." + format.Ext()
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var remoteReportCmd = &cobra.Command{
	Use:   "report <task-id>",
	Short: "Print validation warnings and anomaly flags of a completed task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := dial()
		if err != nil {
			return err
		}
		defer done()
		validation, err := client.GetValidation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		anomalies, err := client.GetAnomalies(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report{TaskID: args[0], Validation: validation, Anomalies: anomalies})
	},
}

var remoteCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a pending or processing task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := dial()
		if err != nil {
			return err
		}
		defer done()
		return client.Cancel(cmd.Context(), args[0])
	},
}
