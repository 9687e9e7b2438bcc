package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/embysync/internal/formatter"
	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/repositories"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
	"github.com/desertthunder/embysync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "config.toml"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	servers    [2]services.MediaServer
	transport  http.RoundTripper
	logger     *log.Logger
	output     io.Writer
	input      io.Reader
	formatter  *formatter.Formatter
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Servers    [2]services.MediaServer // replaces the Emby clients built from Config
	Transport  http.RoundTripper       // used by the Emby clients
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	Formatter  *formatter.Formatter
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigPath
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Formatter == nil {
		opts.Formatter = formatter.New(formatter.FormatPosition)
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		servers:    opts.Servers,
		transport:  opts.Transport,
		logger:     opts.Logger,
		output:     opts.Output,
		input:      opts.Input,
		formatter:  opts.Formatter,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		initCommand, testServerCommand, usersCommand, diffCommand, syncCommand, collectionCommand,
		historyCommand, keysCommand, watchCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by subsequent commands.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// load reads the file named by --config and applies --verbose or --log-level.
//
// A missing default config keeps the current settings; a missing file named
// explicitly is an error.
func (r *Runner) load(cmd *cli.Command) error {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	} else if cmd.IsSet("log-level") {
		level, err := shared.ParseLogLevel(cmd.String("log-level"))
		if err != nil {
			return err
		}
		shared.SetLogLevel(r.logger, level)
	}

	path := cmd.String("config")
	if path == "" {
		path = r.configPath
	}

	if _, err := os.Stat(path); err != nil {
		if cmd.IsSet("config") {
			return fmt.Errorf("%w: %s", shared.ErrMissingConfig, path)
		}
		r.logger.Debug("config file not found, using defaults", "path", path)
		return nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return err
	}
	r.config = config
	r.configPath = path
	return nil
}

// mediaServers returns the LHS and RHS clients, building them from config on first use.
func (r *Runner) mediaServers() (lhs, rhs services.MediaServer, err error) {
	if r.servers[models.LHS] != nil && r.servers[models.RHS] != nil {
		return r.servers[models.LHS], r.servers[models.RHS], nil
	}

	if err := r.config.Validate(); err != nil {
		return nil, nil, err
	}

	configured := r.config.Servers()
	for _, side := range models.Sides {
		key, err := shared.ResolveAPIKey(side.String(), configured[side].APIKey)
		if err != nil {
			return nil, nil, err
		}

		opts := services.OptionsFromConfig(configured[side], r.config.Client, key)
		opts.Transport = r.transport
		r.servers[side] = services.NewEmbyClient(opts)
		r.logger.Debug("configured server", "side", side, "name", opts.Name, "url", shared.NormalizeURL(opts.URL))
	}

	return r.servers[models.LHS], r.servers[models.RHS], nil
}

func (r *Runner) engineOpts() tasks.EngineOpts {
	return tasks.EngineOpts{
		ItemTypes:   r.config.Sync.ItemTypes(),
		MaxItems:    r.config.Sync.MaxItems,
		SettleDelay: r.config.Sync.SettleDelay(),
		Logger:      r.logger,
	}
}

// newEngine creates an engine for both configured servers. progress may be nil.
func (r *Runner) newEngine(progress tasks.ProgressSink) (*tasks.Engine, error) {
	lhs, rhs, err := r.mediaServers()
	if err != nil {
		return nil, err
	}

	opts := r.engineOpts()
	opts.Progress = progress
	return tasks.NewEngine(lhs, rhs, opts), nil
}

// allowed applies sync.users to the user's name and connect name.
func (r *Runner) allowed(u *models.UserRecord) bool {
	if r.config.Sync.UserAllowed(u.Name) {
		return true
	}
	return u.ConnectID != "" && r.config.Sync.UserAllowed(u.ConnectID)
}

// openHistory opens the history database. The returned func closes it.
func (r *Runner) openHistory() (*repositories.HistoryRecorder, func(), error) {
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}

	recorder := repositories.NewHistoryRecorder(db,
		shared.NormalizeURL(r.config.LHS.URL), shared.NormalizeURL(r.config.RHS.URL))
	return recorder, func() { db.Close() }, nil
}

func parseSource(cmd *cli.Command) (*models.Side, error) {
	v := cmd.String("source")
	if v == "" {
		return nil, nil
	}

	side, err := models.ParseSide(v)
	if err != nil {
		return nil, fmt.Errorf("%w: --source: %v", shared.ErrInvalidFlag, err)
	}
	return &side, nil
}

func parseSideArg(cmd *cli.Command) (models.Side, error) {
	v := cmd.StringArg("side")
	if v == "" {
		return models.LHS, fmt.Errorf("%w: side (lhs or rhs)", shared.ErrMissingArgument)
	}

	side, err := models.ParseSide(v)
	if err != nil {
		return models.LHS, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	return side, nil
}

// readLine reads a single trimmed line from the runner's input.
func (r *Runner) readLine() (string, error) {
	line, err := bufio.NewReader(r.input).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// printProgress echoes each new progress title until ch is closed. The returned
// channel is closed once everything has been written.
func (r *Runner) printProgress(ch <-chan tasks.ProgressUpdate) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		last := ""
		for update := range ch {
			if _, ok := update.Data.(tasks.UserSyncResult); ok {
				r.writePlain("   [%d/%d] %s\n", update.Step, update.Total, update.Message)
				continue
			}

			// step updates are too chatty for a terminal; titles only
			if update.Step > 0 || update.Message == "" || update.Message == last {
				continue
			}
			last = update.Message
			r.writePlain("» %s\n", update.Message)
		}
	}()
	return done
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
