package message

import "testing"

func TestParseIdentityLine(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		want    RemoteIdentity
		wantErr bool
	}{
		{
			name: "client",
			line: "MX-CLIENT 1.0",
			want: RemoteIdentity{Kind: IdentityClient, Version: Version{1, 0}},
		},
		{
			name: "server",
			line: "MX-SERVER 1.0",
			want: RemoteIdentity{Kind: IdentityServer, Version: Version{1, 0}},
		},
		{
			name: "subscriber",
			line: "MX-SUBSCRIBER 1.0 poll://queue-a",
			want: RemoteIdentity{Kind: IdentitySubscriber, Version: Version{1, 0}, SubscriptionURI: "poll://queue-a"},
		},
		{
			name:    "subscriber missing uri",
			line:    "MX-SUBSCRIBER 1.0",
			wantErr: true,
		},
		{
			name:    "unrecognized token",
			line:    "GREETINGS 1.0",
			wantErr: true,
		},
		{
			name:    "malformed version",
			line:    "MX-CLIENT one.oh",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseIdentityLine(tc.line)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got identity %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestIdentityLineRoundTrip(t *testing.T) {
	ids := []RemoteIdentity{
		{Kind: IdentityClient, Version: CurrentVersion},
		{Kind: IdentityServer, Version: CurrentVersion},
		{Kind: IdentitySubscriber, Version: CurrentVersion, SubscriptionURI: "poll://billing"},
	}
	for _, id := range ids {
		line := id.IdentityLine()
		got, err := ParseIdentityLine(line)
		if err != nil {
			t.Fatalf("ParseIdentityLine(%q): %v", line, err)
		}
		if got != id {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, id)
		}
	}
}
