// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdinIsTerminal reports whether passphrases can be read without echo.
// Piped input is read line by line from the caller's reader instead.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readPassword reads one passphrase line.
func readPassword(reader *bufio.Reader) ([]byte, error) {
	if stdinIsTerminal() {
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		return pass, err
	}

	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return line, nil
}

// promptList prompts the user with the given prefix, list of valid responses,
// and default list entry to use.  The function will repeat the prompt to the
// user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string,
	defaultEntry string) (string, error) {

	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil && reply == "" {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// Confirm prompts the user for a yes or no answer with the given prefix.
// The function will repeat the prompt to the user until they enter a valid
// response.
func Confirm(reader *bufio.Reader, prefix string,
	defaultEntry string) (bool, error) {

	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// PassPrompt prompts the user for a passphrase with the given prefix.  The
// function will ask the user to confirm the passphrase and will repeat the
// prompts until they enter a matching response.
func PassPrompt(reader *bufio.Reader, prefix string,
	confirm bool) ([]byte, error) {

	prompt := fmt.Sprintf("%s: ", prefix)
	for {
		fmt.Print(prompt)
		pass, err := readPassword(reader)
		if err != nil {
			return nil, err
		}
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			continue
		}

		if !confirm {
			return pass, nil
		}

		fmt.Print("Confirm passphrase: ")
		again, err := readPassword(reader)
		if err != nil {
			return nil, err
		}
		again = bytes.TrimSpace(again)
		if !bytes.Equal(pass, again) {
			fmt.Println("The entered passphrases do not match")
			continue
		}

		return pass, nil
	}
}

// NewStorePass prompts the user for the passphrase of a new coin store.
func NewStorePass(reader *bufio.Reader) ([]byte, error) {
	return PassPrompt(reader, "Enter the passphrase for your new coin "+
		"store", true)
}

// StorePass prompts the user for the passphrase of an existing coin store.
func StorePass(reader *bufio.Reader) ([]byte, error) {
	return PassPrompt(reader, "Enter the coin store passphrase", false)
}
