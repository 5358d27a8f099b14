package main

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/asmogo/cdk/mint"
	"github.com/asmogo/cdk/mint/lightning"
	"github.com/asmogo/cdk/mint/manager"
	"github.com/joho/godotenv"
)

func configFromEnv() (*mint.Config, error) {
	var inputFeePpk uint = 0
	if inputFeeEnv, ok := os.LookupEnv("INPUT_FEE_PPK"); ok {
		fee, err := strconv.ParseUint(inputFeeEnv, 10, 16)
		if err != nil {
			return nil, err
		}
		inputFeePpk = uint(fee)
	}

	port := os.Getenv("MINT_PORT")
	if len(port) == 0 {
		port = "3338"
	}

	mintPath := os.Getenv("MINT_PATH")
	if len(mintPath) == 0 {
		homedir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		mintPath = filepath.Join(homedir, ".gonuts", "mint")
	}

	mintLimits := mint.MintLimits{}
	if maxBalanceEnv, ok := os.LookupEnv("MAX_BALANCE"); ok {
		maxBalance, err := strconv.ParseUint(maxBalanceEnv, 10, 64)
		if err != nil {
			return nil, err
		}
		mintLimits.MaxBalance = maxBalance
	}
	if maxMintEnv, ok := os.LookupEnv("MINTING_MAX_AMOUNT"); ok {
		maxMint, err := strconv.ParseUint(maxMintEnv, 10, 64)
		if err != nil {
			return nil, err
		}
		mintLimits.MintingSettings = mint.MintMethodSettings{MaxAmount: maxMint}
	}
	if maxMeltEnv, ok := os.LookupEnv("MELTING_MAX_AMOUNT"); ok {
		maxMelt, err := strconv.ParseUint(maxMeltEnv, 10, 64)
		if err != nil {
			return nil, err
		}
		mintLimits.MeltingSettings = mint.MeltMethodSettings{MaxAmount: maxMelt}
	}

	var lightningClient lightning.Client
	switch os.Getenv("LIGHTNING_BACKEND") {
	case "Lnd":
		lndConfig := lightning.LndConfig{
			RestURL:      os.Getenv("LND_REST_HOST"),
			TLSCertPath:  os.Getenv("LND_CERT_PATH"),
			MacaroonPath: os.Getenv("LND_MACAROON_PATH"),
		}
		lndClient, err := lightning.SetupLndClient(lndConfig)
		if err != nil {
			return nil, err
		}
		lightningClient = lndClient
	case "CLN":
		clnConfig := lightning.CLNConfig{
			RestURL: os.Getenv("CLN_REST_HOST"),
			Rune:    os.Getenv("CLN_RUNE"),
		}
		clnClient, err := lightning.SetupCLNClient(clnConfig)
		if err != nil {
			return nil, err
		}
		lightningClient = clnClient
	case "FakeBackend":
		lightningClient = &lightning.FakeBackend{}
	default:
		log.Fatal("invalid lightning backend")
	}

	timeout := time.Second * 30
	logLevel := mint.Info
	if os.Getenv("LOG") == "debug" {
		logLevel = mint.Debug
	}

	return &mint.Config{
		DerivationPathIdx: 0,
		Port:              port,
		MintPath:          mintPath,
		DBMigrationPath:   "../../mint/storage/sqlite/migrations",
		InputFeePpk:       inputFeePpk,
		Limits:            mintLimits,
		LightningClient:   lightningClient,
		EnableMPP:         true,
		LogLevel:          logLevel,
		MeltTimeout:       &timeout,
		MintInfo: mint.MintInfo{
			Name:            os.Getenv("MINT_NAME"),
			Description:     os.Getenv("MINT_DESCRIPTION"),
			LongDescription: os.Getenv("MINT_DESCRIPTION_LONG"),
			Motd:            os.Getenv("MINT_MOTD"),
			IconURL:         os.Getenv("MINT_ICON_URL"),
		},
	}, nil
}

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("no .env file found, using environment")
	}

	mintConfig, err := configFromEnv()
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	mintServer, err := mint.SetupMintServer(*mintConfig)
	if err != nil {
		log.Fatalf("error setting up mint server: %v", err)
	}

	adminServer, err := manager.SetupServer(mintServer.Mint())
	if err != nil {
		log.Fatalf("error setting up admin server: %v", err)
	}
	defer adminServer.Shutdown()

	err = mint.StartMintServer(mintServer)
	if err != nil {
		log.Fatalf("error starting mint server: %v", err)
	}
}
