package server

import (
	"fmt"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"go.lsp.dev/protocol"
)

const (
	LspCommandPrefix               = config.Name
	LspCommandSeparator            = "/"
	LspCommandNameFormatCodeBlocks = "formatCodeBlocks"
	LspCommandNameShowConfig       = "showConfig"
)

func serverCapabilities() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			Change:    protocol.TextDocumentSyncKindFull,
			OpenClose: true,
			Save:      &protocol.SaveOptions{IncludeText: true},
		},
		ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
			Commands: []string{
				getFullLspCommandName(LspCommandNameFormatCodeBlocks),
				getFullLspCommandName(LspCommandNameShowConfig),
			},
		},
		DocumentFormattingProvider: true,
	}
}

func serverInfo() *protocol.ServerInfo {
	return &protocol.ServerInfo{
		Name:    string(config.Name),
		Version: string(config.Version),
	}
}

func getFullLspCommandName(command string) string {
	return fmt.Sprintf("%s%s%s", LspCommandPrefix, LspCommandSeparator, command)
}
