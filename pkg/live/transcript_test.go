package live

import "testing"

func TestTranscriptAccumulatesPerChannel(t *testing.T) {
	tr := NewTranscript()
	tr.AddUser("hola ")
	tr.AddUser("profesor")
	tr.AddModel("¡Hola! ")
	tr.AddModel("Bienvenido.")

	if got := tr.UserText(); got != "hola profesor" {
		t.Fatalf("user text = %q", got)
	}
	if got := tr.ModelText(); got != "¡Hola! Bienvenido." {
		t.Fatalf("model text = %q", got)
	}
}

func TestTranscriptCompleteTurnResets(t *testing.T) {
	tr := NewTranscript()
	tr.AddUser("buenos ")
	tr.AddUser("días ")
	tr.AddModel(" buenos días, ¿cómo estás? ")

	turn := tr.CompleteTurn()
	if turn.UserText != "buenos días " {
		t.Fatalf("user = %q", turn.UserText)
	}
	if turn.ModelText != " buenos días, ¿cómo estás? " {
		t.Fatalf("model = %q", turn.ModelText)
	}

	if tr.UserText() != "" || tr.ModelText() != "" {
		t.Fatal("builders not reset")
	}

	empty := tr.CompleteTurn()
	if empty.UserText != "" || empty.ModelText != "" {
		t.Fatalf("second turn = %+v", empty)
	}
}

func TestIsKindUnwraps(t *testing.T) {
	err := newCaptureError(nil)
	if !IsKind(err, ErrCaptureUnavailable) {
		t.Fatal("direct kind not matched")
	}
	if IsKind(err, ErrSilenceDetected) {
		t.Fatal("wrong kind matched")
	}
	if IsKind(nil, ErrSilenceDetected) {
		t.Fatal("nil matched")
	}
}
