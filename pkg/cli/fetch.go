package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/netlens/pkg/cli/internal/output"
	"github.com/getmockd/netlens/pkg/monitor"
	"github.com/getmockd/netlens/pkg/netevent"
)

var errNoEvent = errors.New("request produced no event")

type fetchFlags struct {
	method   string
	headers  []string
	data     string
	timeout  time.Duration
	showBody bool
}

var fetchFlagVals fetchFlags

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Perform one observed HTTP request and print the captured event",
	Example: `  # Inspect a GET
  netlens fetch https://api.example.com/users

  # POST JSON and print the event as JSON
  netlens fetch -X POST -H 'Content-Type: application/json' -d '{"name":"ada"}' --json http://localhost:8080/users`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, closer, err := openLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		mon := monitor.New(cmd.Context(), monitor.Options{
			Logger:      log,
			MaxBodySize: cfg.Monitor.MaxBodySize,
		})
		defer mon.Close()

		ev, err := runFetch(cmd, mon, args[0], &fetchFlagVals)
		if err != nil {
			return err
		}
		return printEvent(cmd.OutOrStdout(), ev, fetchFlagVals.showBody)
	},
}

func init() {
	f := &fetchFlagVals
	fetchCmd.Flags().StringVarP(&f.method, "method", "X", http.MethodGet, "HTTP method")
	fetchCmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	fetchCmd.Flags().StringVarP(&f.data, "data", "d", "", "Request body")
	fetchCmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "Request timeout")
	fetchCmd.Flags().BoolVar(&f.showBody, "body", false, "Include captured bodies in text output")
	rootCmd.AddCommand(fetchCmd)
}

// runFetch performs the request through an attached client and returns the
// terminal event. Transport errors are reported through the event, not as a
// command error.
func runFetch(cmd *cobra.Command, mon *monitor.Monitor, rawURL string, f *fetchFlags) (netevent.NetworkEvent, error) {
	var body io.Reader
	if f.data != "" {
		body = strings.NewReader(f.data)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(f.method), rawURL, body)
	if err != nil {
		return netevent.NetworkEvent{}, fmt.Errorf("building request: %w", err)
	}
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return netevent.NetworkEvent{}, fmt.Errorf("invalid header %q: expected 'Name: value'", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	client := mon.NewClient(f.timeout)
	defer mon.Detach(client)
	mon.StartListening()

	resp, err := client.Do(req)
	if err == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	events := mon.Events()
	if len(events) == 0 {
		if err != nil {
			return netevent.NetworkEvent{}, err
		}
		return netevent.NetworkEvent{}, errNoEvent
	}
	return events[len(events)-1], nil
}

func printEvent(w io.Writer, ev netevent.NetworkEvent, showBody bool) error {
	return printResult(w, ev, func() {
		tw := output.Table(w)
		fmt.Fprintf(tw, "ID\t%s\n", ev.ID)
		fmt.Fprintf(tw, "Request\t%s %s\n", ev.Method, ev.URL)
		switch {
		case ev.Error != "":
			fmt.Fprintf(tw, "Error\t%s\n", ev.Error)
		case ev.Status != 0:
			fmt.Fprintf(tw, "Status\t%d %s\n", ev.Status, ev.StatusText)
		default:
			fmt.Fprintf(tw, "Status\tpending\n")
		}
		fmt.Fprintf(tw, "Class\t%s\n", ev.Class())
		fmt.Fprintf(tw, "Content\t%s\n", ev.ContentType)
		if d, ok := ev.Duration(); ok {
			fmt.Fprintf(tw, "Duration\t%s\n", d)
		}
		fmt.Fprintf(tw, "Sent\t%d bytes\n", ev.RequestSize)
		fmt.Fprintf(tw, "Received\t%d bytes\n", ev.ResponseSize)
		if op := ev.OperationName(); op != "" {
			fmt.Fprintf(tw, "Operation\t%s\n", op)
		}
		_ = tw.Flush()

		if len(ev.ResponseHeaders) > 0 {
			fmt.Fprintln(w, "\nResponse headers:")
			for _, h := range ev.ResponseHeaders {
				fmt.Fprintf(w, "  %s: %s\n", h.Name, h.Value)
			}
		}
		if showBody {
			if s := ev.RequestBody.String(); s != "" {
				fmt.Fprintf(w, "\nRequest body:\n%s\n", s)
			}
			if s := ev.ResponseBody.String(); s != "" {
				fmt.Fprintf(w, "\nResponse body:\n%s\n", s)
			}
		}
	})
}
