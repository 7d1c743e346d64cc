package holystore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/garder500/holystore/pkg/delivery"
	"github.com/garder500/holystore/pkg/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type writeFlags struct {
	name      string
	custom    string
	changelog string
}

func (f *writeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "display name (default: base name of FILE)")
	cmd.Flags().StringVar(&f.custom, "custom", "", "JSON document stored in the header")
	cmd.Flags().StringVar(&f.changelog, "changelog", "", "audit log description")
}

func (f *writeFlags) request(cmd *cobra.Command, path string) (storage.WriteRequest, func() error, error) {
	in, err := openInput(cmd, path)
	if err != nil {
		return storage.WriteRequest{}, nil, err
	}
	name := f.name
	if name == "" && path != "-" {
		name = filepath.Base(path)
	}
	req := storage.WriteRequest{Name: name, Body: in, Changelog: f.changelog}
	if f.custom != "" {
		req.Custom = json.RawMessage(f.custom)
	}
	return req, in.Close, nil
}

func newInsertCmd(opts *globalOptions) *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   "insert FILE",
		Short: "Store a new object and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			s, err := database.Storage()
			if err != nil {
				return err
			}

			req, closeIn, err := wf.request(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			e, err := s.Insert(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.ID)
			return nil
		},
	}
	wf.register(cmd)
	return cmd
}

func newUpdateCmd(opts *globalOptions) *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   "update ID FILE",
		Short: "Replace the content of an existing object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			s, err := database.Storage()
			if err != nil {
				return err
			}

			req, closeIn, err := wf.request(cmd, args[1])
			if err != nil {
				return err
			}
			defer closeIn()

			e, err := s.Update(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s %s\n", e.ID, e.Name, humanize.IBytes(uint64(e.Length)))
			return nil
		},
	}
	wf.register(cmd)
	return cmd
}

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	var changelog string
	cmd := &cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Delete an object",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			s, err := database.Storage()
			if err != nil {
				return err
			}
			return s.Remove(cmd.Context(), id, changelog)
		},
	}
	cmd.Flags().StringVar(&changelog, "changelog", "", "audit log description")
	return cmd
}

func newStatCmd(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stat ID",
		Short: "Show the header of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			s, err := database.Storage()
			if err != nil {
				return err
			}
			h, err := s.Stat(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printEntry(cmd, storage.Entry{ID: id, Header: h}, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json, yaml")
	return cmd
}

func printEntry(cmd *cobra.Command, e storage.Entry, output string) error {
	out := cmd.OutOrStdout()
	switch output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	case "yaml":
		view := struct {
			storage.Entry `yaml:",inline"`
			Custom        any `yaml:"custom,omitempty"`
		}{Entry: e}
		if len(e.Custom) > 0 {
			if err := json.Unmarshal(e.Custom, &view.Custom); err != nil {
				return err
			}
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		fmt.Fprintf(out, "id:       %d\n", e.ID)
		fmt.Fprintf(out, "name:     %s\n", e.Name)
		fmt.Fprintf(out, "type:     %s\n", e.Type)
		fmt.Fprintf(out, "size:     %s (%d bytes)\n", humanize.IBytes(uint64(e.Length)), e.Length)
		if e.Width > 0 || e.Height > 0 {
			fmt.Fprintf(out, "pixels:   %dx%d\n", e.Width, e.Height)
		}
		fmt.Fprintf(out, "modified: %s (%s)\n", e.Modified().Format("2006-01-02 15:04:05"), humanize.Time(e.Modified()))
		if len(e.Custom) > 0 {
			fmt.Fprintf(out, "custom:   %s\n", e.Custom)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown output format %q", storage.ErrValidation, output)
	}
}

func newCatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat ID",
		Short: "Write the payload of an object to standard output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			d, err := database.Delivery()
			if err != nil {
				return err
			}
			return d.Pipe(cmd.Context(), id, &delivery.StreamSink{W: cmd.OutOrStdout()})
		},
	}
}

func newCopyCmd(opts *globalOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "copy ID DIR",
		Short: "Copy the payload of an object into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			d, err := database.Delivery()
			if err != nil {
				return err
			}
			path, err := d.Copy(cmd.Context(), id, args[1], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "target file name (default: stored display name)")
	return cmd
}

func newPushCmd(opts *globalOptions) *cobra.Command {
	var headers []string
	cmd := &cobra.Command{
		Use:   "push ID URL",
		Short: "Upload an object to a remote endpoint as multipart/form-data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			h := http.Header{}
			for _, kv := range headers {
				k, v, ok := strings.Cut(kv, ":")
				if !ok {
					return fmt.Errorf("%w: header %q is not key:value", storage.ErrValidation, kv)
				}
				h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
			}
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			p, err := database.Pusher()
			if err != nil {
				return err
			}
			body, err := p.Push(cmd.Context(), id, args[1], h)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header as key:value (repeatable)")
	return cmd
}
