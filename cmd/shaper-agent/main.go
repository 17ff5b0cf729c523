package main

import (
	"fmt"
	"os"

	kservice "github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/stone-age-io/shaper/internal/agent"
	"github.com/stone-age-io/shaper/internal/config"
)

var version = "dev"

var configPath string

// program adapts the agent to the OS service manager
type program struct {
	configPath string
	agent      *agent.Agent
}

func (p *program) Start(s kservice.Service) error {
	a, err := agent.New(p.configPath, version)
	if err != nil {
		return err
	}
	p.agent = a
	a.Start()
	return nil
}

func (p *program) Stop(s kservice.Service) error {
	if p.agent == nil {
		return nil
	}
	return p.agent.Shutdown()
}

func newService() (kservice.Service, error) {
	svcConfig := &kservice.Config{
		Name:        "shaper-agent",
		DisplayName: "MAC shaper agent",
		Description: "Controls and reports the mac-shaper traffic shaping service over NATS",
		Arguments:   []string{"run", "--config", configPath},
	}
	return kservice.New(&program{configPath: configPath}, svcConfig)
}

func main() {
	root := &cobra.Command{
		Use:           "shaper-agent",
		Short:         "Device agent for the mac-shaper service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.GetDefaultConfigPath(), "path to config file")

	root.AddCommand(
		runCmd(),
		controlCmd("install", "Install the agent as a system service"),
		controlCmd("uninstall", "Remove the agent system service"),
		controlCmd("start", "Start the installed agent service"),
		controlCmd("stop", "Stop the installed agent service"),
		controlCmd("restart", "Restart the installed agent service"),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent (foreground or under the service manager)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kservice.Interactive() {
				a, err := agent.New(configPath, version)
				if err != nil {
					return err
				}
				return a.Run()
			}

			s, err := newService()
			if err != nil {
				return err
			}
			return s.Run()
		},
	}
}

func controlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			if err := kservice.Control(s, action); err != nil {
				return fmt.Errorf("failed to %s service: %w", action, err)
			}
			fmt.Printf("shaper-agent: %s ok\n", action)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
