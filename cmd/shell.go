package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"

	"github.com/openhabits/flexical/client"
	"github.com/openhabits/flexical/lib/utils"
)

// guestCommands is a slice of Command structures containing commands that are available before a session token is set.
var guestCommands []Command

// userCommands is a slice of Command structures containing commands that are available only once a session token is set.
var userCommands []Command

// commonCommands is a slice of Command structures containing commands that are available regardless of session state.
var commonCommands []Command

// loggedIn indicates whether a session token is currently stored.
var loggedIn bool

// shell represents an instance of the interactive shell used for this application.
var shell *ishell.Shell

// The Command struct defines a user command in the system. Each command has a Name, a Desc (short for description), and a Func (the function to execute when the command is called).
type Command struct {
	Name string
	Desc string
	Func func(c *ishell.Context)
}

// readDuration prompts until the user enters a supported period length.
func readDuration(c *ishell.Context) int {
	for {
		c.Print("Enter period length in days (1, 3, 5 or 7): ")
		d, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
		if err == nil && (d == 1 || d == 3 || d == 5 || d == 7) {
			return d
		}
		c.Println("Period length must be 1, 3, 5 or 7 days.")
	}
}

// readDate prompts for a YYYY-MM-DD date and returns it as a UTC unix
// timestamp. An empty line returns 0, meaning "now".
func readDate(c *ishell.Context, prompt string) int64 {
	for {
		c.Print(prompt)
		line := strings.TrimSpace(c.ReadLine())
		if line == "" {
			return 0
		}
		ts, err := utils.ParseDate(line)
		if err == nil {
			return ts
		}
		c.Println("Date must be in YYYY-MM-DD format.")
	}
}

func readInt(c *ishell.Context, prompt string, min, max int) int {
	for {
		c.Print(prompt)
		v, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
		if err == nil && v >= min && v <= max {
			return v
		}
		c.Printf("Enter a number between %d and %d.\n", min, max)
	}
}

func readNonEmpty(c *ishell.Context, prompt string) string {
	for {
		c.Print(prompt)
		line := strings.TrimSpace(c.ReadLine())
		if line != "" {
			return line
		}
		c.Println("This field cannot be empty.")
	}
}

// InitShellCmd initializes the shell and sets up the commands for the
// before- and after-token scenarios.
func InitShellCmd() {

	// Initialize shell
	shell = ishell.New()

	// Define the commands available before a session token is set
	guestCommands = []Command{
		{
			Name: "settoken",
			Desc: "Store the session token issued by the platform",
			Func: func(c *ishell.Context) {
				token := readNonEmpty(c, "Paste Session Token: ")

				if err := client.SetToken(token); err != nil {
					utils.PrintError(err.Error())
					return
				}
				loggedIn = true
				c.Println("Token stored. You can now log entries and browse your calendar.")
				for _, command := range guestCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, userCommands)
			},
		},
	}

	// Define the commands available once a session token is set
	userCommands = []Command{
		{
			Name: "log",
			Desc: "Record an entry for a habit",
			Func: func(c *ishell.Context) {
				habitID := readNonEmpty(c, "Enter Habit ID: ")
				duration := readDuration(c)
				ts := readDate(c, "Enter date (YYYY-MM-DD, empty for today): ")
				if ts == 0 {
					ts = time.Now().Unix()
				}
				x := readInt(c, "How much did you do it? (1-3): ", 1, 3)
				y := readInt(c, "How well did it go? (1-3): ", 1, 3)

				if err := client.LogEntry(habitID, ts, duration, x, y); err != nil {
					handleRequestError(err)
					return
				}
				c.Println("Entry recorded.")
			},
		},
		{
			Name: "calendar",
			Desc: "Show a window of periods",
			Func: func(c *ishell.Context) {
				duration := readDuration(c)
				toDate := readDate(c, "Enter end date (YYYY-MM-DD, empty for current period): ")

				page, err := client.Calendar(toDate, duration, 0)
				if err != nil {
					handleRequestError(err)
					return
				}

				c.Println()
				for _, u := range page.Units {
					marker := "   "
					if page.LatestForQuestions != nil && u.Anchor == *page.LatestForQuestions {
						marker = " * "
					}
					c.Printf("%s%s\n", marker, u.Label)
				}
				c.Println()
				c.Printf("older periods end at %s\n", utils.FormatDate(page.Back))
				if page.Forward != nil {
					c.Printf("newer periods end at %s\n", utils.FormatDate(*page.Forward))
				}
				if page.LatestForQuestions != nil {
					c.Println("* latest period ready for review")
				}
				c.Println()
			},
		},
		{
			Name: "habits",
			Desc: "List the habits visible to you in an instance",
			Func: func(c *ishell.Context) {
				instanceID := readNonEmpty(c, "Enter Instance ID: ")

				habits, err := client.ListHabits(instanceID)
				if err != nil {
					handleRequestError(err)
					return
				}
				if len(habits) == 0 {
					c.Println("No habits found.")
					return
				}
				for _, h := range habits {
					status := "draft"
					if h.Published {
						status = "published"
					}
					c.Printf("  |-- %s [%s, %s] %s\n", h.ID, h.Level, status, h.Name)
				}
			},
		},
		{
			Name: "status",
			Desc: "Show your completion state for an instance",
			Func: func(c *ishell.Context) {
				instanceID := readNonEmpty(c, "Enter Instance ID: ")

				status, err := client.Completion(instanceID)
				if err != nil {
					handleRequestError(err)
					return
				}
				if status.Complete {
					c.Println("Completion requirements: met")
				} else {
					c.Println("Completion requirements: not yet met")
				}
				c.Printf("Fully complete periods: %d\n", status.PeriodsComplete)
				c.Printf("Total entries: %d\n", status.TotalEntries)
			},
		},
		{
			Name: "breaks",
			Desc: "List your breaks, most recent first",
			Func: func(c *ishell.Context) {
				instanceID := readNonEmpty(c, "Enter Instance ID: ")

				breaks, err := client.ListBreaks(instanceID)
				if err != nil {
					handleRequestError(err)
					return
				}
				if len(breaks) == 0 {
					c.Println("No breaks recorded.")
					return
				}
				for _, b := range breaks {
					c.Printf("  |-- %s : %s to %s\n", b.ID, utils.FormatDate(b.Start), utils.FormatDate(b.End))
				}
			},
		},
		{
			Name: "skip",
			Desc: "Take a break for a whole period",
			Func: func(c *ishell.Context) {
				instanceID := readNonEmpty(c, "Enter Instance ID: ")
				duration := readDuration(c)
				ts := readDate(c, "Enter any date in the period (YYYY-MM-DD, empty for today): ")
				if ts == 0 {
					ts = time.Now().Unix()
				}

				brk, err := client.SkipPeriod(instanceID, ts, duration)
				if err != nil {
					handleRequestError(err)
					return
				}
				c.Printf("Break recorded from %s to %s.\n", utils.FormatDate(brk.Start), utils.FormatDate(brk.End))
			},
		},
		{
			Name: "delbreak",
			Desc: "Delete a break you created",
			Func: func(c *ishell.Context) {
				breakID := readNonEmpty(c, "Enter Break ID: ")

				if err := client.DeleteBreak(breakID); err != nil {
					handleRequestError(err)
					return
				}
				c.Println("Break deleted.")
			},
		},
		{
			Name: "signout",
			Desc: "Forget the stored session token",
			Func: func(c *ishell.Context) {
				if err := client.ClearKeyring(); err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Token cleared.")
				loggedIn = false
				for _, command := range userCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, guestCommands)
			},
		},
	}

	// Define common commands that are always available, regardless of session state
	commonCommands = []Command{
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				fmt.Println("Goodbye!")
				os.Exit(0)
			},
		},
	}

	// The help command is created separately to avoid the cyclic dependency
	commonCommands = append(commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: func(c *ishell.Context) {
			c.Println("Available commands:")
			if loggedIn {
				for _, command := range userCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			} else {
				for _, command := range guestCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			}
			for _, command := range commonCommands {
				c.Println("  |-- '" + command.Name + "' : " + command.Desc)
			}
			c.Println()
		},
	})
}

// handleRequestError reports a failed request, dropping back to the
// before-token command set when the session is no longer usable.
func handleRequestError(err error) {
	msg := err.Error()
	utils.PrintError(msg)
	if strings.Contains(msg, "session expired") || strings.Contains(msg, "no session token") {
		loggedIn = false
		for _, command := range userCommands {
			shell.DeleteCmd(command.Name)
		}
		addCommands(shell, guestCommands)
	}
}

// addCommands is a helper function that adds the given commands to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: "Command: " + command.Name,
			Func: command.Func,
		})
	}
}

// Execute is the main function that executes the shell.
// It welcomes the user, adds the available commands, and runs the shell.
func Execute() {
	shell.Println()
	figure.NewFigure("Flexical", "basic", true).Print()
	shell.Println("Welcome to Flexical -- the habit calendar CLI. Type 'help' to see a list of commands.")

	addCommands(shell, commonCommands)
	if token, _, err := client.CurrentSession(); err == nil && token != "" {
		loggedIn = true
	}
	if loggedIn {
		addCommands(shell, userCommands)
	} else {
		addCommands(shell, guestCommands)
	}

	shell.Run()
}
