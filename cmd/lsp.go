package cmd

import (
	"io"
	"os"

	"github.com/cristianradulescu/mdfence-ls/internal/logging"
	"github.com/cristianradulescu/mdfence-ls/internal/server"
	"github.com/spf13/cobra"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

func runLSP(cmd *cobra.Command, _ []string) error {
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return err
	}

	logger := logging.New(debug).Named(logging.NameMain)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting Markdown code block LSP server")

	stream := jsonrpc2.NewStream(struct {
		io.Reader
		io.Writer
		io.Closer
	}{
		os.Stdin,
		os.Stdout,
		os.Stdin,
	})

	conn := jsonrpc2.NewConn(stream)
	lspServer := server.New(conn, server.WithLogger(logger))
	conn.Go(cmd.Context(), lspServer.Handle)

	logger.Info("LSP server is running, waiting for requests")
	<-conn.Done()

	if err := conn.Err(); err != nil {
		logger.Error("LSP server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("LSP server shutdown complete")
	return nil
}
