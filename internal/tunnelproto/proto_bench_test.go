package tunnelproto

import "testing"

func BenchmarkEncodeBody(b *testing.B) {
	payload := make([]byte, 16*1024)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s := EncodeBody(payload)
		if len(s) == 0 {
			b.Fatal("unexpected empty result")
		}
	}
}

func BenchmarkDecodeBody(b *testing.B) {
	payload := make([]byte, 16*1024)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	encoded := EncodeBody(payload)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DecodeBody(encoded)
	}
}

func BenchmarkNewRequestMessage(b *testing.B) {
	req := &Request{
		ID:      "11111111-2222-3333-4444-555555555555",
		Method:  "POST",
		Path:    "/api/items?page=2",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    EncodeBody([]byte(`{"name":"x"}`)),
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewRequestMessage(req); err != nil {
			b.Fatal(err)
		}
	}
}
