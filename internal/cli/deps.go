package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/apicall"
	"github.com/magpieflow/magpie/internal/assist"
	"github.com/magpieflow/magpie/internal/config"
	"github.com/magpieflow/magpie/internal/knowledge"
	"github.com/magpieflow/magpie/internal/llm"
	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/notify"
	"github.com/magpieflow/magpie/internal/runner"
	"github.com/magpieflow/magpie/internal/sandbox"
	"github.com/magpieflow/magpie/internal/step"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/trigger"
	"github.com/magpieflow/magpie/internal/vector"
	"github.com/magpieflow/magpie/internal/workflow"
)

// runtime bundles the long-lived services a command needs. Commands open
// one runtime, use the slices they care about, and Close it on the way out.
// The LLM-backed fields are nil when llm.provider is "none"; commands that
// need them go through the require helpers for a uniform error.
type runtime struct {
	cfg       *config.Config
	resolved  *config.ResolvedConfig
	store     *store.Store
	vectors   *vector.Store
	llm       *llm.Client
	knowledge *knowledge.Service
	assist    *assist.Service
	executor  *step.Executor
	runner    *runner.Runner
	triggers  *trigger.Manager
	scheduler *trigger.Scheduler
	logger    *log.Logger
}

// runtimeOpts tweaks runtime construction per command.
type runtimeOpts struct {
	// Events receives engine lifecycle events, for the live watch view.
	Events chan<- workflow.Event
}

// loadAndResolveConfig loads and resolves the configuration from all sources
// (file, env, CLI flags). It returns the resolved config, the TOML metadata
// (nil when no file was found), and any loading error.
//
// When flagConfig is set, that path is used directly. Otherwise,
// config.FindConfigFile searches upward from the current directory.
func loadAndResolveConfig() (*config.ResolvedConfig, *toml.MetaData, error) {
	var (
		fileCfg *config.Config
		meta    *toml.MetaData
		cfgPath string
	)

	if flagConfig != "" {
		// Explicit --config path provided.
		cfgPath = flagConfig
		fc, md, err := config.LoadFromFile(cfgPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		fileCfg = fc
		meta = &md
	} else {
		// Auto-detect magpie.toml by walking up from cwd.
		found, err := config.FindConfigFile(".")
		if err != nil {
			return nil, nil, fmt.Errorf("finding config file: %w", err)
		}
		if found != "" {
			cfgPath = found
			fc, md, err := config.LoadFromFile(cfgPath)
			if err != nil {
				return nil, nil, fmt.Errorf("loading config: %w", err)
			}
			fileCfg = fc
			meta = &md
		}
	}

	overrides := &config.CLIOverrides{StorePath: flagStore}
	resolved := config.Resolve(config.NewDefaults(), fileCfg, os.LookupEnv, overrides)
	resolved.Path = cfgPath

	return resolved, meta, nil
}

// openRuntime resolves the configuration and wires every service from it.
// Callers own the returned runtime and must Close it.
func openRuntime(opts runtimeOpts) (*runtime, error) {
	// --- 1. Resolve configuration ---
	resolved, _, err := loadAndResolveConfig()
	if err != nil {
		return nil, err
	}
	cfg := resolved.Config

	// --- 2. Open the record and vector stores ---
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store at %q: %w", cfg.Store.Path, err)
	}
	vs, err := vector.Open(cfg.Store.VectorPath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("opening vector store at %q: %w", cfg.Store.VectorPath, err)
	}

	rt := &runtime{
		cfg:      cfg,
		resolved: resolved,
		store:    st,
		vectors:  vs,
		logger:   logging.New("cli"),
	}

	// --- 3. LLM client ---
	// Provider "none" runs without one: llm_call steps report a structured
	// failure and the knowledge and assist commands refuse with a clear error.
	if cfg.LLM.Provider != "none" {
		rt.llm = llm.NewClient(llm.Config{
			BaseURL:    cfg.LLM.BaseURL,
			Model:      cfg.LLM.Model,
			EmbedModel: cfg.LLM.EmbedModel,
			EmbedDims:  cfg.LLM.EmbedDims,
			APIKeyEnv:  cfg.LLM.APIKeyEnv,
		}, llm.WithLogger(logging.New("llm")))
	}

	// --- 4. Knowledge base and authoring services ---
	if rt.llm != nil {
		kb, err := knowledge.NewService(st, vs, rt.llm,
			knowledge.WithLogger(logging.New("knowledge")),
			knowledge.WithDefaultSemanticWeight(cfg.Knowledge.SemanticWeight),
			knowledge.WithSummaryTokens(cfg.Knowledge.SummaryMaxTokens),
			knowledge.WithContextTokens(cfg.Knowledge.ContextMaxTokens),
		)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("initializing knowledge base: %w", err)
		}
		rt.knowledge = kb

		svc, err := assist.NewService(st, kb, assist.WithLogger(logging.New("assist")))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("initializing assist service: %w", err)
		}
		rt.assist = svc
	}

	// --- 5. Step transports ---
	sb := sandbox.NewRunner(
		sandbox.WithInterpreter(cfg.Scripts.Interpreter),
		sandbox.WithTimeout(time.Duration(cfg.Scripts.TimeoutSeconds)*time.Second),
		sandbox.WithWorkDir(cfg.Scripts.WorkDir),
		sandbox.WithLogger(logging.New("sandbox")),
	)
	api := apicall.NewClient(
		apicall.WithTimeout(time.Duration(cfg.HTTP.TimeoutSeconds)*time.Second),
		apicall.WithMaxRetries(cfg.HTTP.MaxRetries),
		apicall.WithCacheTTL(time.Duration(cfg.HTTP.CacheTTLSeconds)*time.Second),
		apicall.WithLogger(logging.New("apicall")),
	)
	mailer := notify.NewEmailNotifier(notify.EmailConfig{
		Host:        cfg.Notify.SMTPHost,
		Port:        cfg.Notify.SMTPPort,
		UserEnv:     cfg.Notify.SMTPUserEnv,
		PasswordEnv: cfg.Notify.SMTPPasswordEnv,
		From:        cfg.Notify.FromAddress,
	}, logging.New("notify"))

	stepLogger := logging.New("step")
	deps := step.Deps{
		Sandbox: sb,
		API:     api,
		Log:     notify.NewLogNotifier(stepLogger),
		Email:   mailer,
	}
	// Assigning a nil *llm.Client would make the interface non-nil and
	// register the llm_call handler against a dead transport.
	if rt.llm != nil {
		deps.LLM = rt.llm
	}

	// --- 6. Step executor and runner ---
	rt.executor = step.NewExecutor(deps, step.WithLogger(stepLogger))

	runnerOpts := []runner.Option{runner.WithLogger(logging.New("runner"))}
	if opts.Events != nil {
		runnerOpts = append(runnerOpts, runner.WithEventChannel(opts.Events))
	}
	rt.runner = runner.New(st, rt.executor, runnerOpts...)

	// --- 7. Trigger manager and scheduler ---
	rt.triggers = trigger.NewManager(st, trigger.WithLogger(logging.New("trigger")))
	rt.scheduler = trigger.NewScheduler(rt.triggers, rt.runner,
		trigger.WithInterval(time.Duration(cfg.Scheduler.CheckIntervalSeconds)*time.Second),
		trigger.WithSchedulerLogger(logging.New("scheduler")),
	)

	return rt, nil
}

// Close releases the underlying store handles. Safe on a partially
// constructed runtime.
func (rt *runtime) Close() {
	if rt.vectors != nil {
		if err := rt.vectors.Close(); err != nil {
			rt.logger.Warn("closing vector store", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("closing store", "error", err)
		}
	}
}

// requireLLM returns the chat client or an actionable error.
func (rt *runtime) requireLLM() (*llm.Client, error) {
	if rt.llm == nil {
		return nil, fmt.Errorf("this command needs an LLM provider; llm.provider is \"none\" in the configuration")
	}
	return rt.llm, nil
}

// requireKnowledge returns the knowledge service or an actionable error.
// The knowledge base embeds documents, so it needs the LLM provider too.
func (rt *runtime) requireKnowledge() (*knowledge.Service, error) {
	if rt.knowledge == nil {
		return nil, fmt.Errorf("the knowledge base needs an LLM provider for embeddings; llm.provider is \"none\" in the configuration")
	}
	return rt.knowledge, nil
}

// requireAssist returns the assist service or an actionable error.
func (rt *runtime) requireAssist() (*assist.Service, error) {
	if rt.assist == nil {
		return nil, fmt.Errorf("workflow authoring needs an LLM provider; llm.provider is \"none\" in the configuration")
	}
	return rt.assist, nil
}
