package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/rammbock/internal/config"
	"github.com/danmuck/rammbock/internal/library"
	"github.com/danmuck/rammbock/internal/logging"
	"github.com/danmuck/rammbock/internal/protocol/session"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/danmuck/rammbock/internal/transport"
	"gopkg.in/yaml.v3"
)

type options struct {
	configPath string
	initConfig string
	force      bool
	defs       string
	message    string
	encode     string
	decode     string
	validate   string
	out        string
	dial       string
	network    string
	protocol   string
	receive    bool
	timeout    time.Duration
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "TOML config file")
	flag.StringVar(&opts.initConfig, "init-config", "", "write a default config to this path and exit")
	flag.BoolVar(&opts.force, "force", false, "overwrite an existing config with -init-config")
	flag.StringVar(&opts.defs, "defs", "", "YAML definition files, comma-separated")
	flag.StringVar(&opts.message, "message", "", "message template name")
	flag.StringVar(&opts.encode, "encode", "", "encode with params \"a:1,b.c:2,header:id:5\"")
	flag.StringVar(&opts.decode, "decode", "", "decode hex bytes")
	flag.StringVar(&opts.validate, "validate", "", "validate the decoded or received message against params")
	flag.StringVar(&opts.out, "out", "text", "decoded output: text | yaml | cbor")
	flag.StringVar(&opts.dial, "dial", "", "connect to addr; -encode sends, -receive waits for one message")
	flag.StringVar(&opts.network, "network", "tcp", "network for -dial")
	flag.StringVar(&opts.protocol, "protocol", "", "protocol framing the -dial stream (defaults to the message's)")
	flag.BoolVar(&opts.receive, "receive", false, "receive one message from -dial")
	flag.DurationVar(&opts.timeout, "timeout", 0, "receive timeout (config default_timeout when 0)")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()
	if err := run(opts, os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

func run(opts options, stdout io.Writer) error {
	if opts.initConfig != "" {
		if err := config.WriteTemplate(opts.initConfig, opts.force); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", opts.initConfig)
		return nil
	}

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	logging.ConfigureRuntime()
	logging.SetLevel(cfg.LogLevel)

	lib := library.New(cfg.Library())
	defs := append(append([]string{}, cfg.Definitions...), splitList(opts.defs)...)
	for _, path := range defs {
		if err := lib.LoadDefinitions(path); err != nil {
			return err
		}
	}
	if opts.message == "" {
		for _, name := range lib.Templates() {
			fmt.Fprintln(stdout, name)
		}
		return nil
	}
	if err := lib.LoadTemplate(opts.message); err != nil {
		return err
	}

	if opts.dial != "" {
		return runDial(lib, opts, stdout)
	}

	switch {
	case opts.encode != "":
		msg, err := lib.GetMessage(library.SplitParams(opts.encode)...)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, hex.EncodeToString(msg.Raw()))
		return nil
	case opts.decode != "":
		data, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(opts.decode), "0x"))
		if err != nil {
			return fmt.Errorf("decode input: %w", err)
		}
		msg, err := lib.Decode(data)
		if err != nil {
			return err
		}
		if err := printMessage(stdout, msg, opts.out); err != nil {
			return err
		}
		return checkMessage(lib, msg, opts.validate)
	default:
		return errors.New("one of -encode, -decode or -dial is required with -message")
	}
}

func runDial(lib *library.Library, opts options, stdout io.Writer) error {
	proto := opts.protocol
	if proto == "" {
		tmpl, _ := lib.Template(opts.message)
		if tmpl.Protocol() == nil {
			return fmt.Errorf("message %s has no protocol; pass -protocol", opts.message)
		}
		proto = tmpl.Protocol().Name()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := transport.Dial(ctx, opts.network, opts.dial)
	cancel()
	if err != nil {
		return err
	}
	origin := session.Origin{Node: conn.RemoteAddr().String(), Connection: conn.LocalAddr().String()}
	if err := lib.RegisterStream("dial", conn, proto, origin); err != nil {
		conn.Close()
		return err
	}
	defer conn.Close()
	defer lib.ResetStreams()

	if opts.encode != "" {
		msg, err := lib.SendMessage(conn, library.SplitParams(opts.encode)...)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "sent %s\n", hex.EncodeToString(msg.Raw()))
	}
	if !opts.receive {
		return nil
	}
	msg, err := lib.ReceiveMessage("dial", opts.timeout, "", false)
	var mm *library.MismatchError
	if err != nil && !errors.As(err, &mm) {
		return err
	}
	if err := printMessage(stdout, msg, opts.out); err != nil {
		return err
	}
	return checkMessage(lib, msg, opts.validate)
}

func checkMessage(lib *library.Library, msg *value.Message, params string) error {
	if params == "" {
		return nil
	}
	return lib.ValidateMessage(msg, library.SplitParams(params)...)
}

func printMessage(w io.Writer, msg *value.Message, format string) error {
	switch format {
	case "", "text":
		_, err := io.WriteString(w, value.Format(msg))
		return err
	case "yaml":
		out, err := yaml.Marshal(value.Snapshot(msg))
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "cbor":
		out, err := value.MarshalCBOR(msg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, hex.EncodeToString(out))
		return err
	default:
		return fmt.Errorf("unknown output format %q (supported: text, yaml, cbor)", format)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "wirectl: "+format+"\n", args...)
	os.Exit(1)
}
