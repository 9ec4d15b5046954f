package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/antlerlab/antlerbot/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup: write config.json and .env",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	fmt.Println("antlerbot setup")
	fmt.Println()

	cfg := config.Default()
	var (
		provider = "openai"
		model    string
		apiKey   string
		token    string
	)

	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Transport mode").
				Description("forward: the bot dials NapCat's WebSocket endpoint; reverse: NapCat dials the bot").
				Options(
					huh.NewOption("forward (dial NapCat)", "forward"),
					huh.NewOption("reverse (accept NapCat)", "reverse"),
				).
				Value(&cfg.Transport.Mode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("NapCat WebSocket URL").
				Value(&cfg.Transport.WSURL),
		).WithHideFunc(func() bool { return cfg.Transport.Mode != "forward" }),
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&cfg.Transport.Bind),
		).WithHideFunc(func() bool { return cfg.Transport.Mode != "reverse" }),
		huh.NewGroup(
			huh.NewInput().
				Title("Access token (empty disables auth)").
				EchoMode(huh.EchoModePassword).
				Value(&token),
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("DeepSeek", "deepseek"),
					huh.NewOption("Moonshot", "moonshot"),
					huh.NewOption("Groq", "groq"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("DashScope", "dashscope"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Model").
				Placeholder("gpt-4o-mini").
				Validate(required("model")).
				Value(&model),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Validate(required("API key")).
				Value(&apiKey),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfgPath := resolveConfigPath()
	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	fmt.Printf("  Wrote %s\n", cfgPath)

	envPath := ".env"
	if _, err := os.Stat(envPath); err == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(".env already exists. Overwrite?").
			Value(&overwrite)
		if err := confirm.Run(); err != nil || !overwrite {
			fmt.Println("  Kept existing .env — set LLM_PROVIDER/LLM_MODEL there yourself.")
			fmt.Println()
			fmt.Println("Setup complete. Start the bot with: antlerbot")
			return
		}
	}
	if err := os.WriteFile(envPath, []byte(envFile(provider, model, apiKey, token)), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", envPath, err)
		os.Exit(1)
	}
	fmt.Printf("  Wrote %s\n", envPath)

	fmt.Println()
	fmt.Println("Setup complete. Start the bot with: antlerbot")
}

// envFile renders the .env contents for the chosen provider. The API key
// lands under the provider's own prefix, which the registry checks first.
func envFile(provider, model, apiKey, token string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "LLM_PROVIDER=%s\n", provider)
	fmt.Fprintf(&b, "LLM_MODEL=%s\n", model)
	fmt.Fprintf(&b, "%s_API_KEY=%s\n", strings.ToUpper(provider), apiKey)
	if token != "" {
		fmt.Fprintf(&b, "ANTLERBOT_ACCESS_TOKEN=%s\n", token)
	}
	return b.String()
}
