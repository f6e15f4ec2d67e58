package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/menta2k/image-overlay/pkg/types"
)

// Inbound command names
const (
	CmdEnableOCR           = "enable-ocr"
	CmdDisableOCR          = "disable-ocr"
	CmdSetEndpoint         = "set-endpoint"
	CmdSetFontScale        = "set-font-scale"
	CmdSetTextboxLinewidth = "set-textbox-linewidth"
	CmdSetColor            = "set-color"
	CmdTranslateSelection  = "translate-selection"
	CmdShowOriginalText    = "show-original-text"
	CmdShowTranslatedText  = "show-translated-text"
	CmdSetSelectedOptions  = "set-selected-options"
	CmdSetLogLevel         = "set-log-level"
)

// Command is one inbound message from the host environment. All
// commands are fire-and-forget; the returned error only reports a
// malformed payload or an unknown name.
type Command struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// HandleCommand dispatches one inbound command
func (c *Controller) HandleCommand(ctx context.Context, cmd Command) error {
	c.logger.Debug("command received", "name", cmd.Name)
	switch cmd.Name {
	case CmdEnableOCR:
		c.Enable()
	case CmdDisableOCR:
		c.Disable()
	case CmdSetEndpoint:
		endpoint, err := stringValue(cmd.Value)
		if err != nil {
			return err
		}
		c.mutateOptions(func(o *types.SessionOptions) { o.Endpoint = endpoint })
	case CmdSetFontScale:
		var scale float64
		if err := json.Unmarshal(cmd.Value, &scale); err != nil {
			return fmt.Errorf("set-font-scale: %w", err)
		}
		c.mutateOptions(func(o *types.SessionOptions) { o.FontScale = scale })
	case CmdSetTextboxLinewidth:
		var width int
		if err := json.Unmarshal(cmd.Value, &width); err != nil {
			return fmt.Errorf("set-textbox-linewidth: %w", err)
		}
		c.mutateOptions(func(o *types.SessionOptions) { o.LineWidth = width })
	case CmdSetColor:
		color, err := stringValue(cmd.Value)
		if err != nil {
			return err
		}
		c.mutateOptions(func(o *types.SessionOptions) { o.Color = color })
	case CmdTranslateSelection:
		c.translateSelection(ctx)
	case CmdShowOriginalText:
		c.setShowTranslated(false)
	case CmdShowTranslatedText:
		c.setShowTranslated(true)
	case CmdSetSelectedOptions:
		var selected map[string]string
		if err := json.Unmarshal(cmd.Value, &selected); err != nil {
			return fmt.Errorf("set-selected-options: %w", err)
		}
		c.mutateOptions(func(o *types.SessionOptions) { o.SelectedOptions = selected })
	case CmdSetLogLevel:
		level, err := stringValue(cmd.Value)
		if err != nil {
			return err
		}
		return c.setLogLevel(level)
	default:
		return fmt.Errorf("unknown command: %q", cmd.Name)
	}
	return nil
}

// setShowTranslated flips the session-wide text visibility and rewrites
// the displayed text of every live overlay box. Toggling back restores
// the exact prior text because boxes keep both variants.
func (c *Controller) setShowTranslated(translated bool) {
	c.mutateOptions(func(o *types.SessionOptions) { o.ShowTranslated = translated })
	for _, entry := range c.reg.Entries() {
		for _, box := range entry.Boxes {
			if translated {
				box.ShowTranslated()
			} else {
				box.ShowOriginal()
			}
		}
	}
}

// translateSelection translates the registered selection's text and
// mutates it in place. Fire-and-forget: failures are logged, not
// returned.
func (c *Controller) translateSelection(ctx context.Context) {
	c.mu.Lock()
	sel := c.selection
	c.mu.Unlock()
	if sel == nil {
		c.logger.Debug("translate-selection with no selection")
		return
	}
	text := sel.Attr("text")
	if text == "" {
		return
	}
	translated, err := c.recognizer.Translate(ctx, text, c.Options())
	if err != nil {
		c.logger.Warn("selection translation failed", "err", err)
		return
	}
	c.doc.SetAttr(sel, "text", translated)
}

func (c *Controller) setLogLevel(level string) error {
	if c.logLevel == nil {
		return nil
	}
	switch strings.ToLower(level) {
	case "debug":
		c.logLevel.Set(slog.LevelDebug)
	case "info":
		c.logLevel.Set(slog.LevelInfo)
	case "warn", "warning":
		c.logLevel.Set(slog.LevelWarn)
	case "error":
		c.logLevel.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", level)
	}
	return nil
}

func stringValue(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected string value: %w", err)
	}
	return s, nil
}
