// Command milterfrom-replay sends a stored message through a running
// milterfrom instance and prints the verdict, for checking a deployment
// without an MTA.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	gomilter "github.com/d--j/go-milter"
)

func main() {
	var opts replayOptions
	flag.StringVar(&opts.Socket, "s", "", "Milter socket: unix:/path, inet:port@host or a path")
	flag.StringVar(&opts.EnvelopeFrom, "f", "", "Envelope sender (default: address of the From header)")
	flag.StringVar(&opts.Recipient, "r", "", "Envelope recipient")
	flag.StringVar(&opts.AuthType, "auth", "", "SASL mechanism to present as {auth_type}; empty for an unauthenticated sender")
	flag.StringVar(&opts.AuthUser, "user", "", "SASL login name to present as {auth_authen}")
	flag.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Read and write timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: milterfrom-replay -s socket [-f sender] [-r rcpt] [-auth mech [-user name]] [message-file]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if opts.Socket == "" {
		flag.Usage()
		os.Exit(64)
	}

	var in io.Reader = os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "milterfrom-replay: %v\n", err)
			os.Exit(66)
		}
		defer f.Close()
		in = f
	}

	act, err := replay(in, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "milterfrom-replay: %v\n", err)
		os.Exit(69)
	}

	fmt.Println(verdict(act))
	if act.StopProcessing() {
		os.Exit(exitCode(act))
	}
}

// exitCode is 1 for permanent and 2 for temporary failures.
func exitCode(act *gomilter.Action) int {
	if act.SMTPCode >= 400 && act.SMTPCode < 500 {
		return 2
	}
	return 1
}
