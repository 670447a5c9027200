package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/gopherchat/internal/ai"
	"github.com/suPer8Hu/gopherchat/internal/chat"
)

const maxImageBytes = 10 << 20

func init() {
	rootCmd.AddCommand(sendCmd)
	f := sendCmd.Flags()
	f.StringArrayP("image", "i", nil, "attach an image (file path, data: URL or http(s) URL); repeatable")
	f.StringP("model", "m", "", "model id for this and later turns")
	f.StringP("effort", "e", "", "reasoning effort: low, medium or high")
	f.StringP("topic", "t", "", "continue this topic")
	f.Bool("new", false, "start a new conversation first")
	f.Bool("reasoning", false, "print the reasoning to stderr")
}

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Send a message and stream the reply",
	Long: `Send a message and stream the reply to stdout. Without text arguments
the message is read from stdin. Ctrl-C stops the reply and keeps what
arrived so far.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		text := strings.Join(args, " ")
		if text == "" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text = strings.TrimSpace(string(b))
		}

		refs, _ := cmd.Flags().GetStringArray("image")
		images := make([]string, 0, len(refs))
		for _, ref := range refs {
			img, err := loadImage(ref)
			if err != nil {
				return err
			}
			images = append(images, img)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if model, _ := cmd.Flags().GetString("model"); model != "" {
			if err := a.svc.SetModel(model); err != nil {
				return err
			}
		}
		if effort, _ := cmd.Flags().GetString("effort"); effort != "" {
			if err := a.svc.SetReasoningEffort(chat.ReasoningEffort(effort)); err != nil {
				return err
			}
		}
		if fresh, _ := cmd.Flags().GetBool("new"); fresh {
			a.svc.NewChat()
		}
		if topic, _ := cmd.Flags().GetString("topic"); topic != "" {
			if err := a.svc.SwitchTopic(ctx, topic); err != nil {
				return err
			}
		}

		showReasoning, _ := cmd.Flags().GetBool("reasoning")
		p := &streamPrinter{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), showReasoning: showReasoning}
		id, err := a.svc.SendMessage(ctx, chat.SendRequest{Text: text, Images: images, OnStream: p.update})
		if err != nil {
			return err
		}

		m, _ := a.store.Message(id)
		p.finish(m.Text)
		if m.Status == chat.StatusError {
			if m.Metadata.Error != "" {
				return errors.New(m.Metadata.Error)
			}
			return errors.New("reply failed")
		}
		return nil
	},
}

// streamPrinter writes the new part of each cumulative update.
type streamPrinter struct {
	out, errOut   io.Writer
	showReasoning bool

	content   string
	reasoning string
}

func (p *streamPrinter) update(u ai.Update) {
	if p.showReasoning && u.Reasoning != p.reasoning {
		fmt.Fprint(p.errOut, delta(p.reasoning, u.Reasoning))
		p.reasoning = u.Reasoning
	}
	if u.Content != p.content {
		if p.content == "" && p.reasoning != "" {
			fmt.Fprintln(p.errOut)
		}
		fmt.Fprint(p.out, delta(p.content, u.Content))
		p.content = u.Content
	}
}

// finish prints whatever the final text adds to the streamed content, such
// as the interrupted marker or an error note.
func (p *streamPrinter) finish(final string) {
	if final != p.content {
		fmt.Fprint(p.out, delta(p.content, final))
		p.content = final
	}
	fmt.Fprintln(p.out)
}

func delta(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	return "\n" + next
}

// loadImage turns a file path into a data URL. URLs pass through.
func loadImage(ref string) (string, error) {
	for _, prefix := range []string{"data:", "http://", "https://"} {
		if strings.HasPrefix(ref, prefix) {
			return ref, nil
		}
	}
	st, err := os.Stat(ref)
	if err != nil {
		return "", fmt.Errorf("image %s: %w", ref, err)
	}
	if st.Size() > maxImageBytes {
		return "", fmt.Errorf("image %s: larger than %d MiB", ref, maxImageBytes>>20)
	}
	b, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("image %s: %w", ref, err)
	}
	mime := http.DetectContentType(b)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("image %s: unsupported content type %s", ref, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
