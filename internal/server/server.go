package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/container"
	"github.com/cristianradulescu/mdfence-ls/internal/diagnostics"
	"github.com/cristianradulescu/mdfence-ls/internal/formatter"
	"github.com/cristianradulescu/mdfence-ls/internal/formatting"
	"github.com/cristianradulescu/mdfence-ls/internal/logging"
	"github.com/cristianradulescu/mdfence-ls/internal/rewriter"
	"github.com/cristianradulescu/mdfence-ls/internal/utils"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	NotificationCodeBlocksFormatted = "Code blocks formatted"

	applyEditLabel = "Format code blocks"
)

// Client is the part of jsonrpc2.Conn the server talks back through.
type Client interface {
	Call(ctx context.Context, method string, params, result interface{}) (jsonrpc2.ID, error)
	Notify(ctx context.Context, method string, params interface{}) error
	Close() error
}

// Server represents the Language Server Protocol (LSP) server
type Server struct {
	conn   Client
	logger *zap.Logger
	runner container.CommandRunner

	// ctx lives until shutdown and bounds background passes.
	ctx    context.Context
	cancel context.CancelFunc

	// Settings and everything built from them, replaced as a whole
	cfgMu        sync.RWMutex
	serverConfig *config.Config
	projectRoot  string
	settings     config.Settings
	formatter    *formatter.Formatter
	cache        *rewriter.Cache
	diagnostics  diagnostics.DiagnosticsProvider

	// intervalOverride replaces settings.Interval() when set
	intervalOverride time.Duration

	// In-memory document cache for synchronized content
	docMu     sync.RWMutex
	documents map[protocol.DocumentURI]string

	// Debounce for auto-format (per-file) with last-wins strategy
	fmtMu     sync.Mutex
	fmtTimers map[protocol.DocumentURI]*time.Timer
	fmtGen    map[protocol.DocumentURI]uint64
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger).Named(logging.NameServer) }
}

// WithRunner replaces the command runner used by external formatters.
func WithRunner(runner container.CommandRunner) Option {
	return func(s *Server) { s.runner = runner }
}

// WithFormatInterval fixes the auto-format delay regardless of settings.
func WithFormatInterval(interval time.Duration) Option {
	return func(s *Server) { s.intervalOverride = interval }
}

// New creates a new LSP server instance
func New(conn Client, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		conn:         conn,
		logger:       zap.NewNop(),
		ctx:          ctx,
		cancel:       cancel,
		serverConfig: &config.Config{},
		diagnostics:  diagnostics.NewBlockDiagnostics(),
		documents:    make(map[protocol.DocumentURI]string),
		fmtTimers:    make(map[protocol.DocumentURI]*time.Timer),
		fmtGen:       make(map[protocol.DocumentURI]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = container.NewShellRunner(s.logger)
	}
	s.applySettings(config.Defaults())

	return s
}

func (s *Server) Handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.logger.Debug("received request", zap.String("method", req.Method()))

	switch req.Method() {
	case protocol.MethodInitialize:
		return s.handleInitialize(ctx, reply, req)
	case protocol.MethodInitialized:
		return s.handleInitialized(ctx, reply, req)
	case protocol.MethodWorkspaceExecuteCommand:
		return s.handleExecuteCommand(ctx, reply, req)
	case protocol.MethodWorkspaceDidChangeConfiguration:
		return s.handleDidChangeConfiguration(ctx, reply, req)
	case protocol.MethodWorkspaceDidChangeWatchedFiles:
		return s.handleDidChangeWatchedFiles(ctx, reply, req)
	case protocol.MethodTextDocumentDidOpen:
		return s.handleDidOpen(ctx, reply, req)
	case protocol.MethodTextDocumentDidChange:
		return s.handleDidChange(ctx, reply, req)
	case protocol.MethodTextDocumentDidClose:
		return s.handleDidClose(ctx, reply, req)
	case protocol.MethodTextDocumentDidSave:
		return s.handleDidSave(ctx, reply, req)
	case protocol.MethodTextDocumentFormatting:
		return s.handleDocumentFormatting(ctx, reply, req)
	case protocol.MethodShutdown:
		return s.handleShutdown(ctx, reply, req)
	case protocol.MethodExit:
		return s.handleExit(ctx, reply, req)
	case protocol.MethodCancelRequest:
		return s.handleCancelRequest(ctx, reply, req)
	default:
		s.logger.Debug("unhandled method", zap.String("method", req.Method()))
		return reply(ctx, nil, nil)
	}
}

func (s *Server) handleInitialize(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling initialize params", zap.Error(err))
		return reply(ctx, nil, err)
	}

	if params.ClientInfo != nil {
		s.logger.Info("client info", zap.String("name", params.ClientInfo.Name), zap.String("version", params.ClientInfo.Version))
	}

	// Determine project root from workspace folder URI or RootURI
	projectRoot := ""
	if len(params.WorkspaceFolders) > 0 && params.WorkspaceFolders[0].URI != "" {
		projectRoot = utils.URIToPath(protocol.DocumentURI(params.WorkspaceFolders[0].URI))
	} else if params.RootURI != "" {
		projectRoot = utils.URIToPath(params.RootURI)
	} else if cwd, cwdErr := os.Getwd(); cwdErr == nil {
		projectRoot = cwd
	}

	settings := s.loadConfig(projectRoot)

	if params.InitializationOptions != nil {
		data, err := json.Marshal(params.InitializationOptions)
		if err == nil {
			var warnings []error
			settings, warnings = config.ParseSettings(settings, unwrapSection(data))
			s.logWarnings(warnings)
		}
	}

	s.applySettings(settings)

	resp := protocol.InitializeResult{
		Capabilities: serverCapabilities(),
		ServerInfo:   serverInfo(),
	}

	return reply(ctx, resp, nil)
}

// loadConfig reads the project settings file. A missing or broken file
// leaves the defaults in place.
func (s *Server) loadConfig(projectRoot string) config.Settings {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.projectRoot = projectRoot
	serverConfig, err := s.serverConfig.LoadConfig(projectRoot)
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		s.configLogger().Info("no config file, using defaults", zap.String("root", projectRoot))
	case err != nil:
		s.configLogger().Warn("config file ignored", zap.Error(err))
	default:
		s.configLogger().Info("config loaded", zap.String("path", serverConfig.Path))
	}
	s.serverConfig = serverConfig
	s.logWarnings(serverConfig.Warnings)

	return serverConfig.Settings
}

func (s *Server) handleInitialized(ctx context.Context, reply jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info("client initialized successfully")

	_, settings := s.snapshot()
	go func() {
		if err := formatting.ValidateFormatters(s.ctx, settings, s.runner); err != nil {
			for _, e := range multierr.Errors(err) {
				s.showWindowMessage(s.ctx, protocol.MessageTypeWarning, e.Error())
			}
		}
	}()

	return reply(ctx, nil, nil)
}

func (s *Server) handleExecuteCommand(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.ExecuteCommandParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling executeCommand params", zap.Error(err))
		return reply(ctx, nil, err)
	}

	s.logger.Info("executing command", zap.String("command", params.Command))

	switch params.Command {
	case getFullLspCommandName(LspCommandNameFormatCodeBlocks):
		return s.handleFormatCodeBlocksCommand(ctx, reply, params.Arguments)
	case getFullLspCommandName(LspCommandNameShowConfig):
		return s.handleShowConfigCommand(ctx, reply)
	default:
		return reply(ctx, nil, fmt.Errorf("unknown command: %s", params.Command))
	}
}

func (s *Server) handleFormatCodeBlocksCommand(ctx context.Context, reply jsonrpc2.Replier, arguments []interface{}) error {
	if len(arguments) == 0 {
		return reply(ctx, nil, errors.New("missing document URI argument"))
	}
	rawURI, ok := arguments[0].(string)
	if !ok || rawURI == "" {
		return reply(ctx, nil, fmt.Errorf("invalid document URI argument: %v", arguments[0]))
	}
	uri := protocol.DocumentURI(rawURI)

	content, err := s.documentContent(uri)
	if err != nil {
		return reply(ctx, nil, err)
	}

	if _, err := s.formatAndApply(ctx, uri, content); err != nil {
		return reply(ctx, nil, err)
	}

	return reply(ctx, nil, nil)
}

func (s *Server) handleShowConfigCommand(ctx context.Context, reply jsonrpc2.Replier) error {
	_, settings := s.snapshot()

	s.cfgMu.RLock()
	source := s.serverConfig.Path
	s.cfgMu.RUnlock()
	if source == "" {
		source = "defaults"
	}

	current, _ := json.Marshal(map[string]interface{}{
		config.ConfigItemFormatOnSave:       settings.FormatOnSave,
		config.ConfigItemFormatInterval:     settings.FormatInterval,
		config.ConfigItemSupportedLanguages: settings.SupportedLanguages,
		config.ConfigItemSQLDialect:         settings.SQLDialect,
		config.ConfigItemFormatters:         settings.Formatters,
		config.ConfigItemCacheTTL:           settings.CacheTTL,
	})
	s.showWindowMessage(ctx, protocol.MessageTypeInfo, fmt.Sprintf("Current configuration (%s): %s", source, current))

	return reply(ctx, nil, nil)
}

func (s *Server) handleDidChangeConfiguration(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeConfigurationParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))
		return err
	}

	data, err := json.Marshal(params.Settings)
	if err != nil {
		return err
	}

	_, current := s.snapshot()
	settings, warnings := config.ParseSettings(current, unwrapSection(data))
	s.logWarnings(warnings)
	s.applySettings(settings)

	return nil
}

func (s *Server) handleDidChangeWatchedFiles(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeWatchedFilesParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))
		return err
	}

	s.cfgMu.RLock()
	projectRoot := s.projectRoot
	s.cfgMu.RUnlock()

	for _, change := range params.Changes {
		name := filepath.Base(utils.URIToPath(change.URI))
		if name == config.ConfigFileName || name == config.TomlConfigFileName {
			s.applySettings(s.loadConfig(projectRoot))
			return nil
		}
	}

	return nil
}

func (s *Server) handleDidOpen(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))
		return err
	}

	s.setDocumentContent(params.TextDocument.URI, params.TextDocument.Text)

	return nil
}

func (s *Server) handleDidChange(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))
		return err
	}

	if len(params.ContentChanges) > 0 {
		lastChange := params.ContentChanges[len(params.ContentChanges)-1]
		s.setDocumentContent(params.TextDocument.URI, lastChange.Text)
	}

	s.scheduleAutoFormat(params.TextDocument.URI)

	return nil
}

func (s *Server) handleDidSave(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidSaveTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))
		return err
	}

	if params.Text != "" {
		s.setDocumentContent(params.TextDocument.URI, params.Text)
	}

	s.scheduleAutoFormat(params.TextDocument.URI)

	return nil
}

func (s *Server) handleDidClose(ctx context.Context, _ jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling params", zap.String("method", req.Method()), zap.Error(err))
		return err
	}

	s.cancelAutoFormat(params.TextDocument.URI)
	s.deleteDocumentContent(params.TextDocument.URI)
	s.publishDiagnostics(ctx, params.TextDocument.URI, []protocol.Diagnostic{})

	return nil
}

func (s *Server) handleDocumentFormatting(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params protocol.DocumentFormattingParams
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling document formatting params", zap.Error(err))
		return reply(ctx, nil, err)
	}

	uri := params.TextDocument.URI
	content, err := s.documentContent(uri)
	if err != nil {
		return reply(ctx, nil, err)
	}

	docFormatter, settings := s.snapshot()
	edits, result := docFormatter.Format(ctx, content, settings)
	s.publishDiagnostics(ctx, uri, s.diagnostics.Analyze(content, result))

	return reply(ctx, edits, nil)
}

func (s *Server) handleShutdown(ctx context.Context, reply jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info("performing cleanup before shutdown")
	s.stop()

	return reply(ctx, nil, nil)
}

func (s *Server) handleExit(_ context.Context, _ jsonrpc2.Replier, _ jsonrpc2.Request) error {
	s.logger.Info("exiting server")
	s.stop()

	return s.conn.Close()
}

func (s *Server) handleCancelRequest(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var params struct {
		ID interface{} `json:"id"`
	}
	if err := json.Unmarshal(req.Params(), &params); err != nil {
		s.logger.Error("error unmarshaling cancel request params", zap.Error(err))
		return err
	}

	// Cancellation itself goes through the request context.
	s.logger.Debug("client requested cancellation", zap.Any("id", params.ID))
	return reply(ctx, nil, nil)
}

func (s *Server) stop() {
	s.fmtMu.Lock()
	for uri, timer := range s.fmtTimers {
		timer.Stop()
		delete(s.fmtTimers, uri)
		s.fmtGen[uri]++
	}
	s.fmtMu.Unlock()

	s.cancel()

	s.cfgMu.Lock()
	if s.cache != nil {
		s.cache.Stop()
		s.cache = nil
	}
	s.cfgMu.Unlock()
}

// applySettings rebuilds the formatter stack for settings. The cache survives
// when its TTL is unchanged but loses its entries.
func (s *Server) applySettings(settings config.Settings) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	if s.cache != nil && settings.CacheTTL == s.settings.CacheTTL {
		// Formatter commands may have changed.
		s.cache.Clear()
	} else {
		if s.cache != nil {
			s.cache.Stop()
			s.cache = nil
		}
		if settings.CacheTTL > 0 {
			s.cache = rewriter.NewCache(time.Duration(settings.CacheTTL) * time.Second)
			go s.cache.Start()
		}
	}

	opts := []rewriter.Option{rewriter.WithObserver(rewriter.NewLogObserver(s.logger))}
	if s.cache != nil {
		opts = append(opts, rewriter.WithCache(s.cache))
	}

	registry := formatting.LoadFormatters(settings, s.runner, s.logger)
	s.formatter = formatter.NewFormatter(rewriter.New(registry, opts...))
	s.settings = settings

	s.logger.Debug("settings applied",
		zap.Bool("formatOnSave", settings.FormatOnSave),
		zap.Int("formatInterval", settings.FormatInterval),
		zap.Strings("supportedLanguages", settings.SupportedLanguages),
		zap.String("sqlDialect", settings.SQLDialect),
	)
}

// snapshot returns the current formatter and a private copy of the settings.
func (s *Server) snapshot() (*formatter.Formatter, config.Settings) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.formatter, s.settings.Clone()
}

func (s *Server) configLogger() *zap.Logger {
	return s.logger.Named(logging.NameConfig)
}

func (s *Server) logWarnings(warnings []error) {
	for _, warning := range warnings {
		s.configLogger().Warn("setting ignored", zap.Error(warning))
	}
}

// unwrapSection accepts settings either flat or nested under the server name.
func unwrapSection(data []byte) []byte {
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(data, &nested); err != nil {
		return data
	}
	if section, ok := nested[config.Name]; ok {
		return section
	}
	return data
}

// formatAndApply runs a pass over content, publishes diagnostics and asks
// the client to apply the edit. It reports whether the document changed.
func (s *Server) formatAndApply(ctx context.Context, uri protocol.DocumentURI, content string) (bool, error) {
	docFormatter, settings := s.snapshot()
	edits, result := docFormatter.Format(ctx, content, settings)

	s.publishDiagnostics(ctx, uri, s.diagnostics.Analyze(content, result))

	if len(edits) == 0 {
		return false, nil
	}

	params := protocol.ApplyWorkspaceEditParams{
		Label: applyEditLabel,
		Edit: protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentURI][]protocol.TextEdit{uri: edits},
		},
	}
	var response protocol.ApplyWorkspaceEditResponse
	if _, err := s.conn.Call(ctx, protocol.MethodWorkspaceApplyEdit, params, &response); err != nil {
		return false, fmt.Errorf("failed to apply edit: %w", err)
	}
	if !response.Applied {
		return false, fmt.Errorf("client rejected edit: %s", response.FailureReason)
	}

	s.setDocumentContent(uri, result.Text)
	return true, nil
}

func (s *Server) interval(settings config.Settings) time.Duration {
	if s.intervalOverride > 0 {
		return s.intervalOverride
	}
	return settings.Interval()
}

// scheduleAutoFormat (re)starts the auto-format timer of a Markdown
// document when formatOnSave is on. Only the last scheduled run does any work.
func (s *Server) scheduleAutoFormat(uri protocol.DocumentURI) {
	_, settings := s.snapshot()
	if !settings.FormatOnSave || !isMarkdown(uri) {
		return
	}

	s.fmtMu.Lock()
	defer s.fmtMu.Unlock()

	if timer, exists := s.fmtTimers[uri]; exists {
		timer.Stop()
	}

	s.fmtGen[uri]++
	gen := s.fmtGen[uri]

	s.fmtTimers[uri] = time.AfterFunc(s.interval(settings), func() {
		s.fmtMu.Lock()
		currentGen := s.fmtGen[uri]
		if gen == currentGen {
			delete(s.fmtTimers, uri)
		}
		s.fmtMu.Unlock()

		if gen != currentGen {
			return
		}

		s.autoFormat(uri, gen)
	})
}

func (s *Server) cancelAutoFormat(uri protocol.DocumentURI) {
	s.fmtMu.Lock()
	defer s.fmtMu.Unlock()

	if timer, exists := s.fmtTimers[uri]; exists {
		timer.Stop()
		delete(s.fmtTimers, uri)
	}
	s.fmtGen[uri]++
}

func (s *Server) autoFormat(uri protocol.DocumentURI, gen uint64) {
	content, exists := s.getDocumentContent(uri)
	if !exists {
		return
	}

	// A newer edit makes this run stale.
	s.fmtMu.Lock()
	stale := s.fmtGen[uri] != gen
	s.fmtMu.Unlock()
	if stale {
		return
	}

	changed, err := s.formatAndApply(s.ctx, uri, content)
	if err != nil {
		s.logger.Warn("auto-format failed", zap.String("uri", string(uri)), zap.Error(err))
		return
	}
	if changed {
		s.showWindowMessage(s.ctx, protocol.MessageTypeInfo, NotificationCodeBlocksFormatted)
	}
}

func (s *Server) showWindowMessage(ctx context.Context, messageType protocol.MessageType, message string) {
	params := &protocol.ShowMessageParams{Type: messageType, Message: message}
	if err := s.conn.Notify(ctx, protocol.MethodWindowShowMessage, params); err != nil {
		s.logger.Warn("failed to send window message", zap.Error(err))
	}
}

func (s *Server) publishDiagnostics(ctx context.Context, uri protocol.DocumentURI, diagnostics []protocol.Diagnostic) {
	params := protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: utils.EnsureDiagnosticsArray(diagnostics),
	}

	if err := s.conn.Notify(ctx, protocol.MethodTextDocumentPublishDiagnostics, params); err != nil {
		s.logger.Warn("failed to publish diagnostics", zap.Error(err))
	}
}

// documentContent prefers the synchronized text and falls back to disk.
func (s *Server) documentContent(uri protocol.DocumentURI) (string, error) {
	if content, exists := s.getDocumentContent(uri); exists {
		return content, nil
	}

	fileContent, err := os.ReadFile(utils.URIToPath(uri))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(fileContent), nil
}

func (s *Server) setDocumentContent(uri protocol.DocumentURI, content string) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	s.documents[uri] = content
}

func (s *Server) getDocumentContent(uri protocol.DocumentURI) (string, bool) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	content, exists := s.documents[uri]
	return content, exists
}

func (s *Server) deleteDocumentContent(uri protocol.DocumentURI) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	delete(s.documents, uri)
}

// isMarkdown reports whether uri names a Markdown file.
func isMarkdown(uri protocol.DocumentURI) bool {
	ext := strings.ToLower(filepath.Ext(string(uri)))
	return ext == ".md" || ext == ".markdown"
}
