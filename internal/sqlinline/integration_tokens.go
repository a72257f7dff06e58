package sqlinline

const QSelectIntegrationToken = `--sql 4e1b7a9c-2d6f-48e3-b5a0-9c8d3f2e1a47
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql d2a85f31-6b9e-4c70-a4d8-1e5f7c3b9a26
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
