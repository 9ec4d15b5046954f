package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/antlerlab/antlerbot/internal/config"
	"github.com/antlerlab/antlerbot/internal/providers"
	"github.com/antlerlab/antlerbot/internal/tasks"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	_ = godotenv.Load()

	fmt.Println("antlerbot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults apply, run: antlerbot onboard)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  LLM:")
	checkEnv("Provider", "LLM_PROVIDER")
	checkEnv("Model", "LLM_MODEL")
	if _, err := providers.FromEnv(); err != nil {
		fmt.Printf("    %-12s %s\n", "Status:", err)
	} else {
		fmt.Printf("    %-12s OK\n", "Status:")
	}
	settings, settingsErr := config.LoadSettings(cfg.SettingsPath())
	if t, err := providers.NewTranscription(settings.Media.TranscriptionModel, settings.Media.TranscriptionProvider); err != nil {
		fmt.Printf("    %-12s %s\n", "Transcribe:", err)
	} else if t == nil {
		fmt.Printf("    %-12s (main provider)\n", "Transcribe:")
	} else {
		fmt.Printf("    %-12s %s\n", "Transcribe:", t.Name())
	}

	fmt.Println()
	fmt.Println("  Transport:")
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Transport.Mode)
	if cfg.Transport.Mode == "reverse" {
		fmt.Printf("    %-12s %s\n", "Bind:", cfg.Transport.Bind)
	} else {
		fmt.Printf("    %-12s %s\n", "Endpoint:", cfg.Transport.WSURL)
	}
	checkSecret("Token", cfg.Transport.AccessToken)

	fmt.Println()
	fmt.Println("  Agent files:")
	checkFile("Settings", cfg.SettingsPath(), "(defaults apply)")
	if settingsErr != nil {
		fmt.Printf("    %-12s parse error: %s\n", "", settingsErr)
	}
	checkFile("Prompt", cfg.PromptPath(), "(will seed on first run)")
	if stored, err := tasks.NewStore(cfg.TasksPath()).Load(); err != nil {
		fmt.Printf("    %-12s %s\n", "Tasks:", err)
	} else {
		fmt.Printf("    %-12s %s (%d tasks)\n", "Tasks:", cfg.TasksPath(), len(stored))
	}
	checkFile("Permissions", cfg.PermissionsPath(), "(no operators)")

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("ffmpeg")
	checkBinary("ffprobe")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkEnv(label, key string) {
	if v := os.Getenv(key); v != "" {
		fmt.Printf("    %-12s %s\n", label+":", v)
	} else {
		fmt.Printf("    %-12s (not set)\n", label+":")
	}
}

func checkSecret(label, value string) {
	if value == "" {
		fmt.Printf("    %-12s (not set)\n", label+":")
		return
	}
	masked := value
	if len(value) > 8 {
		masked = value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	} else {
		masked = strings.Repeat("*", len(value))
	}
	fmt.Printf("    %-12s %s\n", label+":", masked)
}

func checkFile(label, path, missing string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-12s %s %s\n", label+":", path, missing)
	} else {
		fmt.Printf("    %-12s %s (OK)\n", label+":", path)
	}
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND (audio/video trimming disabled)\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
