package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"executioncore/cmd/admin"
	"executioncore/cmd/keys"
	"executioncore/cmd/killswitch"
	"executioncore/cmd/trader"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Execution Core CMD"
	app.Usage = "The execution core command line interface"

	app.Commands = []cli.Command{
		traderCMD,
		keysCMD,
		killSwitchCMD,
		stateCMD,
		unwindCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverFlag = cli.StringFlag{
		Name:  "server",
		Usage: "base URL of the running trader daemon",
		Value: "http://localhost:8080",
	}
	reasonFlag = cli.StringFlag{
		Name:  "reason",
		Usage: "why this is being done (mandatory, recorded in the audit log)",
	}
	actorFlag = cli.StringFlag{
		Name:  "actor",
		Usage: "who is doing it",
	}

	traderCMD = cli.Command{
		Name:        "trader",
		Usage:       "run the execution daemon",
		Action:      traderAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the multi-account execution daemon`,
	}
	keysCMD = cli.Command{
		Name:   "keys",
		Usage:  "store encrypted exchange credentials for an account",
		Action: keysAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "account", Usage: "account name"},
			cli.StringFlag{Name: "exchange", Usage: "exchange name, e.g. kraken-futures"},
			cli.StringFlag{Name: "api-key", Usage: "exchange API key"},
			cli.StringFlag{Name: "api-secret", Usage: "exchange API secret"},
			cli.StringFlag{Name: "scope", Usage: "credential scope override"},
			cli.BoolFlag{Name: "create", Usage: "register the account if it does not exist"},
		},
		Description: `Encrypt and store API credentials on an exchange link`,
	}
	killSwitchCMD = cli.Command{
		Name:  "killswitch",
		Usage: "flip the durable kill switch directly in the database",
		Subcommands: []cli.Command{
			{
				Name:   "activate",
				Usage:  "throw the switch, forcing EMERGENCY_STOP",
				Action: killSwitchAction(true),
				Flags:  []cli.Flag{reasonFlag, actorFlag},
			},
			{
				Name:   "deactivate",
				Usage:  "clear the switch (state stays EMERGENCY_STOP until restore-safe-mode)",
				Action: killSwitchAction(false),
				Flags:  []cli.Flag{reasonFlag, actorFlag},
			},
		},
	}
	stateCMD = cli.Command{
		Name:  "state",
		Usage: "inspect and drive the trading state machine of a running daemon",
		Subcommands: []cli.Command{
			{
				Name:   "show",
				Usage:  "print the current trading state",
				Action: stateShowAction,
				Flags:  []cli.Flag{serverFlag},
			},
			{
				Name:   "transition",
				Usage:  "request a state transition",
				Action: stateTransitionAction,
				Flags: []cli.Flag{
					serverFlag, reasonFlag, actorFlag,
					cli.StringFlag{Name: "to", Usage: "target state, e.g. DRY_RUN"},
				},
			},
			{
				Name:   "confirm-live",
				Usage:  "confirm LIVE trading from LIVE_PENDING_CONFIRMATION",
				Action: stateConfirmLiveAction,
				Flags:  []cli.Flag{serverFlag, reasonFlag, actorFlag},
			},
			{
				Name:   "restore-safe-mode",
				Usage:  "leave EMERGENCY_STOP into DRY_RUN (kill switch must be clear)",
				Action: stateRestoreAction,
				Flags:  []cli.Flag{serverFlag, reasonFlag, actorFlag},
			},
		},
	}
	unwindCMD = cli.Command{
		Name:   "unwind",
		Usage:  "toggle forced unwind for one account on a running daemon",
		Action: unwindAction,
		Flags: []cli.Flag{
			serverFlag, reasonFlag, actorFlag,
			cli.UintFlag{Name: "account", Usage: "account id"},
			cli.BoolFlag{Name: "off", Usage: "clear forced unwind instead of setting it"},
		},
	}
)

func traderAction(_ *cli.Context) error {

	logrus.Info("Starting trader CMD")
	logrus.WithField("cmd", "trader")

	t := &trader.Trader{}
	err := t.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func keysAction(c *cli.Context) error {

	logrus.Info("Starting keys CMD")
	logrus.WithField("cmd", "keys")

	k := &keys.Keys{
		Account:   c.String("account"),
		Exchange:  c.String("exchange"),
		APIKey:    c.String("api-key"),
		APISecret: c.String("api-secret"),
		Scope:     c.String("scope"),
		Create:    c.Bool("create"),
	}
	err := k.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func killSwitchAction(activate bool) func(*cli.Context) error {
	return func(c *cli.Context) error {
		ks := &killswitch.KillSwitch{
			Activate: activate,
			Reason:   c.String("reason"),
			Actor:    c.String("actor"),
		}
		err := ks.Start()
		if err != nil {
			logrus.WithError(err).Error("Starting cmd")
			return err
		}

		return nil
	}
}

func stateShowAction(c *cli.Context) error {
	client := admin.NewClient(c.String("server"))

	current, err := client.State()
	if err != nil {
		return err
	}

	fmt.Println(current)
	return nil
}

func stateTransitionAction(c *cli.Context) error {
	client := admin.NewClient(c.String("server"))

	current, err := client.Transition(c.String("to"), c.String("reason"), c.String("actor"))
	if err != nil {
		return err
	}

	fmt.Println(current)
	return nil
}

func stateConfirmLiveAction(c *cli.Context) error {
	client := admin.NewClient(c.String("server"))

	current, err := client.ConfirmLive(c.String("reason"), c.String("actor"))
	if err != nil {
		return err
	}

	fmt.Println(current)
	return nil
}

func stateRestoreAction(c *cli.Context) error {
	client := admin.NewClient(c.String("server"))

	current, err := client.RestoreSafeMode(c.String("reason"), c.String("actor"))
	if err != nil {
		return err
	}

	fmt.Println(current)
	return nil
}

func unwindAction(c *cli.Context) error {
	client := admin.NewClient(c.String("server"))

	active := !c.Bool("off")
	err := client.SetUnwind(uint(c.Uint("account")), active, c.String("reason"), c.String("actor"))
	if err != nil {
		return err
	}

	fmt.Printf("account %d forced unwind: %v\n", c.Uint("account"), active)
	return nil
}
