package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("RAZORPAY_KEY_SECRET", "key_secret")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", "whsec")
}

func TestLoad(t *testing.T) {
	t.Run("Success loading from env", func(t *testing.T) {
		setRequired(t)
		t.Setenv("DB_USER", "testuser")
		t.Setenv("DB_PASSWORD", "testpass")
		t.Setenv("DB_NAME", "testdb")
		t.Setenv("DB_PORT", "5432")
		t.Setenv("APP_PORT", "9090")
		t.Setenv("APP_ENV", "test")
		t.Setenv("RAZORPAY_KEY_ID", "rzp_test_1")
		t.Setenv("GATEWAY_TIMEOUT", "3s")
		t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
		t.Setenv("DEFAULT_CURRENCY", "usd")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "localhost", cfg.DBHost)
		assert.Equal(t, "testuser", cfg.DBUser)
		assert.Equal(t, "testpass", cfg.DBPassword)
		assert.Equal(t, "testdb", cfg.DBName)
		assert.Equal(t, "5432", cfg.DBPort)
		assert.Equal(t, "9090", cfg.AppPort)
		assert.Equal(t, "test", cfg.AppEnv)
		assert.Equal(t, "rzp_test_1", cfg.RazorpayKeyID)
		assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
		assert.Equal(t, "USD", cfg.DefaultCurrency)
	})

	t.Run("Defaults", func(t *testing.T) {
		setRequired(t)
		t.Setenv("APP_PORT", "")
		t.Setenv("GATEWAY_TIMEOUT", "")
		t.Setenv("DEFAULT_CURRENCY", "")
		t.Setenv("KAFKA_TOPIC", "")
		t.Setenv("KAFKA_BROKERS", "")
		t.Setenv("STORE_DRIVER", "")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.AppPort)
		assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
		assert.Equal(t, "INR", cfg.DefaultCurrency)
		assert.Equal(t, "payment-events", cfg.KafkaTopic)
		assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
		assert.Empty(t, cfg.KafkaBrokers)
		assert.Equal(t, "https://api.razorpay.com", cfg.RazorpayBaseURL)
	})

	t.Run("Bolt driver does not need DB_HOST", func(t *testing.T) {
		setRequired(t)
		t.Setenv("DB_HOST", "")
		t.Setenv("STORE_DRIVER", "bolt")
		t.Setenv("BOLT_PATH", "/tmp/pay.db")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/pay.db", cfg.BoltPath)
	})

	t.Run("Missing DB_HOST", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORE_DRIVER", "postgres")
		t.Setenv("DB_HOST", "")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("Unknown driver", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORE_DRIVER", "mongo")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("Missing gateway secrets", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORE_DRIVER", "")
		t.Setenv("RAZORPAY_WEBHOOK_SECRET", "")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("Bad timeout", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORE_DRIVER", "")
		t.Setenv("GATEWAY_TIMEOUT", "soon")

		_, err := Load()
		assert.Error(t, err)
	})
}
