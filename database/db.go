package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/kreatum/kreatum/cache"
	"github.com/pkg/errors"

	"github.com/kreatum/kreatum/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache init error, continuing without cache: %v", errCache)
			newCache = nil
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres connection")
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, errors.Wrap(err, "pinging postgres")
	}
	err = createUserTable(db)
	if err != nil {
		return nil, err
	}
	err = createModelTable(db)
	if err != nil {
		return nil, err
	}
	err = createJobTable(db)
	if err != nil {
		return nil, err
	}
	err = createTransactionTable(db)
	if err != nil {
		return nil, err
	}
	err = createReferralTable(db)
	if err != nil {
		return nil, err
	}
	err = createWebhookLogTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createUserTable creates a PostgreSQL table for the User struct.
// The CHECK on balance_tokens backs the invariant that a balance never goes
// negative as a result of a reservation.
func createUserTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			telegram_id TEXT,
			username TEXT,
			anon_user_id TEXT UNIQUE,
			email TEXT UNIQUE,
			balance_tokens NUMERIC(14,4) NOT NULL DEFAULT 0 CHECK (balance_tokens >= 0),
			ref_code TEXT UNIQUE,
			referrer_id TEXT,
			has_left_review BOOLEAN NOT NULL DEFAULT FALSE,
			has_channel_sub BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating users table: %v", err)
	}
	return err
}

// createModelTable creates a PostgreSQL table for the GenModel catalog.
func createModelTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS models (
			id SERIAL PRIMARY KEY,
			model_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			endpoint TEXT,
			cost_unit TEXT NOT NULL DEFAULT 'second',
			cost_per_unit_tokens NUMERIC(14,4) NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			max_file_count INTEGER NOT NULL DEFAULT 1,
			options JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating models table: %v", err)
	}
	return err
}

// createJobTable creates a PostgreSQL table for the Job struct.
// order_id is the unique correlation key shared with the provider and the
// payment gateway.
func createJobTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			model_id TEXT,
			anon_user_id TEXT,
			order_id TEXT UNIQUE,
			service_type TEXT,
			status TEXT NOT NULL DEFAULT 'waiting_payment',
			price_rub NUMERIC(10,2) CHECK (price_rub IS NULL OR price_rub >= 0),
			tokens_reserved NUMERIC(14,4) NOT NULL DEFAULT 0 CHECK (tokens_reserved >= 0),
			tokens_consumed NUMERIC(14,4) NOT NULL DEFAULT 0 CHECK (tokens_consumed >= 0),
			is_paid BOOLEAN NOT NULL DEFAULT FALSE,
			request_id TEXT,
			endpoint_id TEXT,
			input JSONB,
			result_url TEXT,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CHECK (tokens_consumed <= tokens_reserved)
		)
	`)
	if err != nil {
		log.Printf("Error creating jobs table: %v", err)
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_status_paid ON jobs (status, is_paid)`)
	if err != nil {
		log.Printf("Error creating jobs status index: %v", err)
	}
	return err
}

// createTransactionTable creates a PostgreSQL table for the Transaction
// struct. The partial unique index on (user_id, reference) is the arbiter
// behind idempotent credits.
func createTransactionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			job_id TEXT,
			type TEXT NOT NULL,
			provider TEXT,
			status TEXT,
			amount_rub NUMERIC(14,2) CHECK (amount_rub IS NULL OR amount_rub >= 0),
			tokens_delta NUMERIC(14,4),
			currency TEXT NOT NULL DEFAULT 'RUB',
			reference TEXT,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating transactions table: %v", err)
		return err
	}
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_user_reference
		ON transactions (user_id, reference) WHERE reference IS NOT NULL
	`)
	if err != nil {
		log.Printf("Error creating transactions reference index: %v", err)
	}
	return err
}

// createReferralTable creates a PostgreSQL table for the Referral struct.
func createReferralTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS referrals (
			id SERIAL PRIMARY KEY,
			referral_id TEXT NOT NULL UNIQUE,
			inviter_id TEXT NOT NULL REFERENCES users(user_id),
			invitee_id TEXT NOT NULL REFERENCES users(user_id),
			invitee_paid BOOLEAN NOT NULL DEFAULT FALSE,
			reward_given BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (inviter_id, invitee_id)
		)
	`)
	if err != nil {
		log.Printf("Error creating referrals table: %v", err)
	}
	return err
}

// createWebhookLogTable creates a PostgreSQL table for the WebhookLog struct.
func createWebhookLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_logs (
			id SERIAL PRIMARY KEY,
			log_id TEXT NOT NULL UNIQUE,
			event_type TEXT,
			payload JSONB,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating webhook_logs table: %v", err)
	}
	return err
}
