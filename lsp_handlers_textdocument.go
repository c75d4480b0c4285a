// sorovet/lsp_handlers_textdocument.go
// Contains LSP method handlers related to text document synchronization and
// language features (didOpen, didChange, didClose, completion, hover).
package sorovet

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Text Document Method Handlers
// ============================================================================

// handleDidOpen handles the 'textDocument/didOpen' notification.
// It registers the document snapshot and triggers a validation pass.
func (s *Server) handleDidOpen(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidOpenTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	openLogger := logger.With("uri", uri, "version", version, "size", len(params.TextDocument.Text))
	openLogger.Info("Handling textDocument/didOpen")

	snap := s.service.Sessions().Open(uri, params.TextDocument.Text, version)
	go s.triggerDiagnostics(snap)
	return nil, nil
}

// handleDidChange handles the 'textDocument/didChange' notification.
// Only Full sync is supported: the last content change carries the whole
// document, which replaces the stored snapshot. A fresh validation pass runs
// for the snapshot that is actually current, so an ignored stale update still
// republishes accurate diagnostics.
func (s *Server) handleDidChange(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	changeLogger := logger.With("uri", uri, "new_version", version)

	if len(params.ContentChanges) == 0 {
		changeLogger.Warn("Received didChange notification with no content changes")
		return nil, nil
	}
	newText := params.ContentChanges[len(params.ContentChanges)-1].Text
	changeLogger.Info("Handling textDocument/didChange", "new_size", len(newText))

	snap, updated := s.service.Sessions().Update(uri, newText, version)
	if !updated {
		current, ok := s.service.Sessions().Get(uri)
		if !ok {
			changeLogger.Warn("didChange for unopened document, ignoring")
			return nil, nil
		}
		snap = current
	}

	go s.triggerDiagnostics(snap)
	return nil, nil
}

// handleDidClose handles the 'textDocument/didClose' notification.
// It discards the snapshot and clears the document's published diagnostics.
func (s *Server) handleDidClose(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidCloseTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	closeLogger := logger.With("uri", uri)
	closeLogger.Info("Handling textDocument/didClose")

	s.service.Sessions().Close(uri)
	s.service.Settings().Evict(uri)
	s.publishDiagnostics(uri, nil, []LspDiagnostic{}) // Clear diagnostics
	return nil, nil
}

// handleCompletion handles 'textDocument/completion'. The candidate catalog
// is position-independent, so the request position only feeds logging and
// parameter validation; the full static list always comes back.
func (s *Server) handleCompletion(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params CompletionParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	lspPos := params.Position
	completionLogger := logger.With("uri", uri, "lsp_line", lspPos.Line, "lsp_char", lspPos.Character)
	completionLogger.Info("Handling textDocument/completion")

	snap, ok := s.service.Sessions().Get(uri)
	if !ok {
		completionLogger.Warn("Completion request for unknown document")
		return CompletionList{IsIncomplete: false, Items: []CompletionItem{}}, nil
	}

	_, _, _, posErr := LspPositionToBytePosition([]byte(snap.Text), lspPos, completionLogger)
	if posErr != nil {
		completionLogger.Debug("Completion position out of range; serving catalog anyway", "error", posErr)
	}

	snippetSupport := s.clientCaps.TextDocument != nil &&
		s.clientCaps.TextDocument.Completion != nil &&
		s.clientCaps.TextDocument.Completion.CompletionItem != nil &&
		s.clientCaps.TextDocument.Completion.CompletionItem.SnippetSupport

	candidates := s.service.Complete(*snap, Position{Line: int(lspPos.Line), Character: int(lspPos.Character)})
	items := make([]CompletionItem, 0, len(candidates))
	for _, cand := range candidates {
		format := PlainTextFormat
		if snippetSupport && cand.Kind == KindSnippet {
			format = SnippetFormat
		}
		items = append(items, CompletionItem{
			Label:            cand.Label,
			Kind:             candidateKindToLSP(cand.Kind),
			InsertText:       cand.InsertText,
			InsertTextFormat: format,
			Data:             cand.ResolveKey,
		})
	}

	completionLogger.Debug("Serving completion candidates", "count", len(items))
	return CompletionList{IsIncomplete: false, Items: items}, nil
}

// handleCompletionResolve handles 'completionItem/resolve', filling in the
// detail and documentation for one candidate by its resolve key. An unknown
// key returns the item unchanged; clients tolerate unresolved items.
func (s *Server) handleCompletionResolve(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, item CompletionItem, logger *slog.Logger) (any, error) {
	resolveLogger := logger.With("label", item.Label, "resolve_key", item.Data)
	resolveLogger.Debug("Handling completionItem/resolve")

	if item.Data == "" {
		resolveLogger.Debug("Resolve request without key, returning item unchanged")
		return item, nil
	}
	resolved, err := s.service.ResolveCompletion(item.Data)
	if err != nil {
		resolveLogger.Warn("Could not resolve completion item", "error", err)
		return item, nil
	}
	item.Detail = resolved.Detail
	item.Documentation = resolved.Documentation
	return item, nil
}

// handleHover handles 'textDocument/hover'. A nil result (no identifier, no
// vocabulary entry, case mismatch) is the normal miss path, never an error.
func (s *Server) handleHover(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params HoverParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	lspPos := params.Position
	hoverLogger := logger.With("uri", uri, "lsp_line", lspPos.Line, "lsp_char", lspPos.Character)
	hoverLogger.Info("Handling textDocument/hover")

	snap, ok := s.service.Sessions().Get(uri)
	if !ok {
		hoverLogger.Warn("Hover request for unknown document")
		return nil, nil
	}

	content := []byte(snap.Text)
	_, _, byteOffset, posErr := LspPositionToBytePosition(content, lspPos, hoverLogger)
	if posErr != nil {
		hoverLogger.Debug("Failed to convert LSP position to byte offset", "error", posErr)
		return nil, nil
	}

	info := s.service.Hover(*snap, byteOffset)
	if info == nil {
		hoverLogger.Debug("No hover content at position")
		return nil, nil
	}

	var hoverRange *LSPRange
	startLine, startChar, startErr := byteOffsetToLSPPosition(content, info.StartOffset, hoverLogger)
	endLine, endChar, endErr := byteOffsetToLSPPosition(content, info.EndOffset, hoverLogger)
	if startErr == nil && endErr == nil {
		hoverRange = &LSPRange{
			Start: LSPPosition{Line: startLine, Character: startChar},
			End:   LSPPosition{Line: endLine, Character: endChar},
		}
	} else {
		hoverLogger.Warn("Could not determine range for hover identifier", "start_error", startErr, "end_error", endErr)
	}

	// Determine markup kind
	markupKind := MarkupKindPlainText
	if s.clientCaps.TextDocument != nil && s.clientCaps.TextDocument.Hover != nil {
		for _, kind := range s.clientCaps.TextDocument.Hover.ContentFormat {
			if kind == MarkupKindMarkdown {
				markupKind = MarkupKindMarkdown
				break
			}
		}
	}

	hoverLogger.Info("Hover information generated", "identifier", info.Ident, "markup", markupKind)
	return HoverResult{
		Contents: MarkupContent{Kind: markupKind, Value: info.Markdown},
		Range:    hoverRange,
	}, nil
}
