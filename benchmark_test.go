package vaultfs

import (
	"crypto/rand"
	"os"
	"testing"
)

func BenchmarkChunkSeal(b *testing.B) {
	key, err := newMasterKey()
	if err != nil {
		b.Fatal(err)
	}
	cryptor, err := NewCryptor(key)
	if err != nil {
		b.Fatal(err)
	}
	header, err := cryptor.NewFileHeader()
	if err != nil {
		b.Fatal(err)
	}

	payload := make([]byte, ChunkPayloadSize)
	rand.Read(payload)

	b.SetBytes(ChunkPayloadSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cryptor.EncryptChunk(header, uint64(i), payload); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkChunkOpen(b *testing.B) {
	key, err := newMasterKey()
	if err != nil {
		b.Fatal(err)
	}
	cryptor, err := NewCryptor(key)
	if err != nil {
		b.Fatal(err)
	}
	header, err := cryptor.NewFileHeader()
	if err != nil {
		b.Fatal(err)
	}

	payload := make([]byte, ChunkPayloadSize)
	rand.Read(payload)
	sealed, err := cryptor.EncryptChunk(header, 0, payload)
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(ChunkPayloadSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cryptor.DecryptChunk(header, 0, sealed); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFilenameEncrypt(b *testing.B) {
	key, err := newMasterKey()
	if err != nil {
		b.Fatal(err)
	}
	cryptor, err := NewCryptor(key)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cryptor.EncryptFilename("quarterly-report-final-v2.xlsx", "11111111-2222-3333-4444-555555555555"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSequentialWrite(b *testing.B) {
	reg, _ := newTestRegistry(b)

	payload := make([]byte, 4*ChunkPayloadSize)
	rand.Read(payload)

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch, err := reg.OpenChannel("/bench", "/bench", os.O_RDWR, true)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := ch.Write(payload); err != nil {
			b.Fatal(err)
		}
		if err := ch.Close(); err != nil {
			b.Fatal(err)
		}
	}
}
