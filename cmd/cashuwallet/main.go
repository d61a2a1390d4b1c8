package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/wallet"
	"github.com/joho/godotenv"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/urfave/cli/v2"
)

var w *wallet.Wallet

const defaultMintURL = "http://127.0.0.1:3338"

func walletDir() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	path := filepath.Join(homedir, ".cashukit", "wallet")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func mintURL() string {
	envPath := filepath.Join(walletDir(), ".env")
	if _, err := os.Stat(envPath); err != nil {
		if wd, err := os.Getwd(); err == nil {
			envPath = filepath.Join(wd, ".env")
		}
	}
	_ = godotenv.Load(envPath)

	if url := os.Getenv("MINT_URL"); url != "" {
		return url
	}
	return defaultMintURL
}

func setupWallet(ctx *cli.Context) error {
	var err error
	w, err = wallet.New(wallet.Config{WalletDir: walletDir()})
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "cashuwallet",
		Usage: "cashu ecash wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			mnemonicCmd,
			restoreCmd,
			historyCmd,
			decodeCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "wallet balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	balance, err := w.Balance("")
	if err != nil {
		printErr(err)
	}
	fmt.Printf("balance: %d sats\n", balance)
	return nil
}

const invoiceFlag = "invoice"
const amountFlag = "amount"

var mintCmd = &cli.Command{
	Name:   "mint",
	Usage:  "request a mint quote, or redeem a paid one",
	Before: setupWallet,
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: amountFlag, Usage: "amount in sats to mint"},
		&cli.StringFlag{Name: invoiceFlag, Usage: "quote id of a paid invoice to redeem"},
	},
	Action: mint,
}

func mint(ctx *cli.Context) error {
	if ctx.IsSet(invoiceFlag) {
		quoteID := ctx.String(invoiceFlag)
		quote, err := w.MintQuoteState(context.Background(), mintURL(), quoteID)
		if err != nil {
			printErr(err)
		}
		proofs, err := w.MintTokens(context.Background(), mintURL(), quoteID, quote.Amount)
		if err != nil {
			printErr(err)
		}
		fmt.Printf("%d sats minted\n", proofs.Amount())
		return nil
	}

	if !ctx.IsSet(amountFlag) {
		printErr(errors.New("specify --amount to request a mint quote"))
	}
	quote, err := w.RequestMint(context.Background(), mintURL(), ctx.Uint64(amountFlag))
	if err != nil {
		printErr(err)
	}
	fmt.Printf("invoice: %s\n\n", quote.PaymentRequest)
	fmt.Printf("after paying, run: cashuwallet mint --invoice %s\n", quote.QuoteID)
	return nil
}

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "generate a token for the specified amount",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Action:    send,
}

func send(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := strconv.ParseUint(ctx.Args().First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	token, err := w.Send(context.Background(), mintURL(), amount, true)
	if err != nil {
		printErr(err)
	}
	fmt.Println(token)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "receive a token",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Action:    receive,
}

func receive(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		printErr(errors.New("token not provided"))
	}
	amount, err := w.Receive(context.Background(), ctx.Args().First())
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%d sats received\n", amount)
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "pay a lightning invoice",
	ArgsUsage: "[INVOICE]",
	Before:    setupWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		printErr(errors.New("specify a lightning invoice to pay"))
	}
	invoice := ctx.Args().First()

	// Best-effort decode for display only; the mint is the authority on
	// whether the invoice is payable, so a failed decode never blocks the
	// payment.
	if inv, err := decodepay.Decodepay(invoice); err == nil {
		if inv.MSatoshi > 0 {
			fmt.Printf("paying %d sats", inv.MSatoshi/1000)
			if inv.Description != "" {
				fmt.Printf(": %s", inv.Description)
			}
			fmt.Println()
		} else if inv.Description != "" {
			fmt.Printf("paying: %s\n", inv.Description)
		}
	}

	quote, err := w.RequestMeltQuote(context.Background(), mintURL(), invoice)
	if err != nil {
		printErr(err)
	}
	result, err := w.MeltTokens(context.Background(), mintURL(), quote.QuoteID)
	if err != nil {
		printErr(err)
	}
	fmt.Printf("invoice paid, preimage: %s\n", result.Preimage)
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "print the wallet's recovery phrase",
	Before: setupWallet,
	Action: mnemonic,
}

func mnemonic(ctx *cli.Context) error {
	fmt.Printf("mnemonic: %s\n", w.Mnemonic())
	return nil
}

var restoreCmd = &cli.Command{
	Name:   "restore",
	Usage:  "scan a mint for proofs derived from this wallet's seed",
	Before: setupWallet,
	Action: restore,
}

func restore(ctx *cli.Context) error {
	results, err := w.Restore(context.Background(), mintURL())
	if err != nil {
		printErr(err)
	}
	var total uint64
	for _, r := range results {
		fmt.Printf("keyset %s: restored %d proofs for %d sats\n", r.KeysetID, r.Proofs, r.Restored)
		total += r.Restored
	}
	fmt.Printf("\ntotal restored: %d sats\n", total)
	return nil
}

var historyCmd = &cli.Command{
	Name:   "history",
	Usage:  "list past mint/melt/send/receive operations",
	Before: setupWallet,
	Action: history,
}

func history(ctx *cli.Context) error {
	entries, err := w.History()
	if err != nil {
		printErr(err)
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s %s  %d sats", formatTime(e.Timestamp), e.Kind, e.Mint, e.Amount)
		if e.Fee > 0 {
			fmt.Printf(" (fee %d)", e.Fee)
		}
		fmt.Println()
	}
	return nil
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	ArgsUsage: "[TOKEN]",
	Usage:     "decode a token without redeeming it",
	Action:    decode,
}

func decode(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		printErr(errors.New("token not provided"))
	}
	token, err := cashu.DecodeToken(ctx.Args().First())
	if err != nil {
		printErr(err)
	}
	jsonToken, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		printErr(err)
	}
	fmt.Println(string(jsonToken))
	return nil
}

func formatTime(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).Format(time.DateTime)
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
