package sqlinline

const QSelectProviderAccounts = `--sql c740b247-1aba-40ce-9a90-e4b6a72207e9
select identity, secret
from provider_accounts
where provider = $1::text
  and disabled = false
order by created_at asc, identity asc;
`

const QUpsertProviderAccount = `--sql 6cdf699f-e066-42f3-bae9-bd537a26d554
insert into provider_accounts (id, provider, identity, secret, disabled, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, $3::text, false, now(), now())
on conflict (provider, identity) do update set
    secret = excluded.secret,
    disabled = false,
    updated_at = now();
`

const QDisableProviderAccount = `--sql cbcf596c-89b3-4115-bfa1-061af293d9dc
update provider_accounts
set disabled = true, updated_at = now()
where provider = $1::text
  and identity = $2::text;
`
