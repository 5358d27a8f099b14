package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/crypto"
	bolt "go.etcd.io/bbolt"
)

const (
	keysetsBucket       = "keysets"
	proofsBucket        = "proofs"
	pendingProofsBucket = "pending_proofs"
	invoicesBucket      = "invoices"
	mintQuotesBucket    = "mint_quotes"
	meltQuotesBucket    = "melt_quotes"
	seedBucket          = "seed"

	mnemonicKey = "mnemonic"
	seedKey     = "seed"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initWalletBuckets(); err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{
			keysetsBucket,
			proofsBucket,
			pendingProofsBucket,
			invoicesBucket,
			mintQuotesBucket,
			meltQuotesBucket,
			seedBucket,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) SaveMnemonicSeed(mnemonic string, seed []byte) {
	db.bolt.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(seedBucket))
		bucket.Put([]byte(seedKey), seed)
		bucket.Put([]byte(mnemonicKey), []byte(mnemonic))
		return nil
	})
}

func (db *BoltDB) GetMnemonic() string {
	var mnemonic string
	db.bolt.View(func(tx *bolt.Tx) error {
		mnemonic = string(tx.Bucket([]byte(seedBucket)).Get([]byte(mnemonicKey)))
		return nil
	})
	return mnemonic
}

func (db *BoltDB) GetSeed() []byte {
	var seed []byte
	db.bolt.View(func(tx *bolt.Tx) error {
		seed = tx.Bucket([]byte(seedBucket)).Get([]byte(seedKey))
		return nil
	})
	return seed
}

func (db *BoltDB) SaveProofs(proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		for _, proof := range proofs {
			Y, err := crypto.HashToCurve([]byte(proof.Secret))
			if err != nil {
				return err
			}
			key := Y.SerializeCompressed()

			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := proofsb.Put(key, jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProofs retrieves all proofs from db
func (db *BoltDB) GetProofs() cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))

		return proofsb.ForEach(func(k, v []byte) error {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			proofs = append(proofs, proof)
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) GetProofsByKeysetId(id string) cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))

		return proofsb.ForEach(func(k, v []byte) error {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			if proof.Id == id {
				proofs = append(proofs, proof)
			}
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) DeleteProof(secret string) error {
	Y, err := crypto.HashToCurve([]byte(secret))
	if err != nil {
		return err
	}
	key := Y.SerializeCompressed()

	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		if proofsb.Get(key) == nil {
			return errors.New("proof does not exist")
		}
		return proofsb.Delete(key)
	})
}

func (db *BoltDB) AddPendingProofs(proofs cashu.Proofs) error {
	return db.addPendingProofs(proofs, "")
}

func (db *BoltDB) AddPendingProofsByQuoteId(proofs cashu.Proofs, quoteId string) error {
	return db.addPendingProofs(proofs, quoteId)
}

func (db *BoltDB) addPendingProofs(proofs cashu.Proofs, quoteId string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))
		for _, proof := range proofs {
			Y, err := crypto.HashToCurve([]byte(proof.Secret))
			if err != nil {
				return err
			}
			Yhex := hex.EncodeToString(Y.SerializeCompressed())

			dbProof := DBProof{
				Y:           Yhex,
				Amount:      proof.Amount,
				Id:          proof.Id,
				Secret:      proof.Secret,
				C:           proof.C,
				DLEQ:        proof.DLEQ,
				MeltQuoteId: quoteId,
			}

			jsonProof, err := json.Marshal(dbProof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := pendingProofsb.Put([]byte(Yhex), jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetPendingProofs() []DBProof {
	proofs := []DBProof{}

	db.bolt.View(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))

		return pendingProofsb.ForEach(func(k, v []byte) error {
			var proof DBProof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			proofs = append(proofs, proof)
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) GetPendingProofsByQuoteId(quoteId string) []DBProof {
	proofs := []DBProof{}

	db.bolt.View(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))

		return pendingProofsb.ForEach(func(k, v []byte) error {
			var proof DBProof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			if proof.MeltQuoteId == quoteId {
				proofs = append(proofs, proof)
			}
			return nil
		})
	})
	return proofs
}

func (db *BoltDB) DeletePendingProofs(Ys []string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))
		for _, v := range Ys {
			key := []byte(v)
			if pendingProofsb.Get(key) == nil {
				return errors.New("proof does not exist")
			}
			if err := pendingProofsb.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) DeletePendingProofsByQuoteId(quoteId string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		pendingProofsb := tx.Bucket([]byte(pendingProofsBucket))

		var keys [][]byte
		err := pendingProofsb.ForEach(func(k, v []byte) error {
			var proof DBProof
			if err := json.Unmarshal(v, &proof); err != nil {
				return err
			}
			if proof.MeltQuoteId == quoteId {
				keys = append(keys, k)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range keys {
			if err := pendingProofsb.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(keyset)
	if err != nil {
		return fmt.Errorf("invalid keyset: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		mintBucket, err := keysetsb.CreateBucketIfNotExists([]byte(keyset.MintURL))
		if err != nil {
			return err
		}
		return mintBucket.Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() crypto.KeysetsMap {
	keysets := make(crypto.KeysetsMap)

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))

		return keysetsb.ForEachBucket(func(mintURL []byte) error {
			mintKeysets := make(map[string]crypto.WalletKeyset)
			mintBucket := keysetsb.Bucket(mintURL)

			err := mintBucket.ForEach(func(id, v []byte) error {
				var keyset crypto.WalletKeyset
				if err := json.Unmarshal(v, &keyset); err != nil {
					return err
				}
				mintKeysets[string(id)] = keyset
				return nil
			})
			if err != nil {
				return err
			}

			keysets[string(mintURL)] = mintKeysets
			return nil
		})
	})
	return keysets
}

func (db *BoltDB) GetKeyset(keysetId string) *crypto.WalletKeyset {
	var keyset *crypto.WalletKeyset

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))

		return keysetsb.ForEachBucket(func(mintURL []byte) error {
			mintBucket := keysetsb.Bucket(mintURL)
			if v := mintBucket.Get([]byte(keysetId)); v != nil {
				keyset = &crypto.WalletKeyset{}
				return json.Unmarshal(v, keyset)
			}
			return nil
		})
	})
	return keyset
}

func (db *BoltDB) IncrementKeysetCounter(keysetId string, num uint32) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))

		return keysetsb.ForEachBucket(func(mintURL []byte) error {
			mintBucket := keysetsb.Bucket(mintURL)
			v := mintBucket.Get([]byte(keysetId))
			if v == nil {
				return nil
			}

			var keyset crypto.WalletKeyset
			if err := json.Unmarshal(v, &keyset); err != nil {
				return err
			}
			keyset.Counter += num

			jsonKeyset, err := json.Marshal(&keyset)
			if err != nil {
				return err
			}
			return mintBucket.Put([]byte(keysetId), jsonKeyset)
		})
	})
}

func (db *BoltDB) GetKeysetCounter(keysetId string) uint32 {
	keyset := db.GetKeyset(keysetId)
	if keyset == nil {
		return 0
	}
	return keyset.Counter
}

func (db *BoltDB) SaveInvoice(invoice Invoice) error {
	jsonbytes, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("invalid invoice: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))
		return invoicesb.Put([]byte(invoice.Id), jsonbytes)
	})
}

func (db *BoltDB) GetInvoice(quoteId string) *Invoice {
	var invoice *Invoice

	db.bolt.View(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))
		if v := invoicesb.Get([]byte(quoteId)); v != nil {
			invoice = &Invoice{}
			return json.Unmarshal(v, invoice)
		}
		return nil
	})
	return invoice
}

func (db *BoltDB) GetInvoiceByPaymentRequest(paymentRequest string) *Invoice {
	var invoice *Invoice

	db.bolt.View(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))

		return invoicesb.ForEach(func(k, v []byte) error {
			var current Invoice
			if err := json.Unmarshal(v, &current); err != nil {
				return err
			}
			if current.PaymentRequest == paymentRequest {
				invoice = &current
			}
			return nil
		})
	})
	return invoice
}

func (db *BoltDB) GetInvoices() []Invoice {
	invoices := []Invoice{}

	db.bolt.View(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))

		return invoicesb.ForEach(func(k, v []byte) error {
			var invoice Invoice
			if err := json.Unmarshal(v, &invoice); err != nil {
				return err
			}
			invoices = append(invoices, invoice)
			return nil
		})
	})
	return invoices
}

func (db *BoltDB) SaveMintQuote(quote MintQuote) error {
	jsonbytes, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("invalid mint quote: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		mintQuotesb := tx.Bucket([]byte(mintQuotesBucket))
		return mintQuotesb.Put([]byte(quote.QuoteId), jsonbytes)
	})
}

func (db *BoltDB) GetMintQuotes() []MintQuote {
	quotes := []MintQuote{}

	db.bolt.View(func(tx *bolt.Tx) error {
		mintQuotesb := tx.Bucket([]byte(mintQuotesBucket))

		return mintQuotesb.ForEach(func(k, v []byte) error {
			var quote MintQuote
			if err := json.Unmarshal(v, &quote); err != nil {
				return err
			}
			quotes = append(quotes, quote)
			return nil
		})
	})
	return quotes
}

func (db *BoltDB) GetMintQuoteById(id string) *MintQuote {
	var quote *MintQuote

	db.bolt.View(func(tx *bolt.Tx) error {
		mintQuotesb := tx.Bucket([]byte(mintQuotesBucket))
		if v := mintQuotesb.Get([]byte(id)); v != nil {
			quote = &MintQuote{}
			return json.Unmarshal(v, quote)
		}
		return nil
	})
	return quote
}

func (db *BoltDB) SaveMeltQuote(quote MeltQuote) error {
	jsonbytes, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("invalid melt quote: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		meltQuotesb := tx.Bucket([]byte(meltQuotesBucket))
		return meltQuotesb.Put([]byte(quote.QuoteId), jsonbytes)
	})
}

func (db *BoltDB) GetMeltQuotes() []MeltQuote {
	quotes := []MeltQuote{}

	db.bolt.View(func(tx *bolt.Tx) error {
		meltQuotesb := tx.Bucket([]byte(meltQuotesBucket))

		return meltQuotesb.ForEach(func(k, v []byte) error {
			var quote MeltQuote
			if err := json.Unmarshal(v, &quote); err != nil {
				return err
			}
			quotes = append(quotes, quote)
			return nil
		})
	})
	return quotes
}

func (db *BoltDB) GetMeltQuoteById(id string) *MeltQuote {
	var quote *MeltQuote

	db.bolt.View(func(tx *bolt.Tx) error {
		meltQuotesb := tx.Bucket([]byte(meltQuotesBucket))
		if v := meltQuotesb.Get([]byte(id)); v != nil {
			quote = &MeltQuote{}
			return json.Unmarshal(v, quote)
		}
		return nil
	})
	return quote
}
